// Package crm keeps the CRM contact for a prospect in step with the funnel.
// The CRM is the trigger point for drip automation, so every write carries
// the best-known attribute snapshot.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/model"
	"github.com/sells-group/leadfunnel/pkg/brevo"
)

// DefaultListID is the marketing list every funnel contact joins.
const DefaultListID int64 = 49

// Vendor attribute names.
const (
	AttrFirstName                = "FIRSTNAME"
	AttrSMS                      = "SMS"
	AttrWhatsApp                 = "WHATSAPP"
	AttrUTMSource                = "UTM_SOURCE"
	AttrUTMMedium                = "UTM_MEDIUM"
	AttrUTMCampaign              = "UTM_CAMPAIGN"
	AttrUTMContent               = "UTM_CONTENT"
	AttrUTMTerm                  = "UTM_TERM"
	AttrQualified                = "QUALIFIED"
	AttrQualificationReason      = "QUALIFICATION_REASON"
	AttrQualificationCategory    = "QUALIFICATION_CATEGORY"
	AttrApplyQualified           = "APPLY_QUALIFIED"
	AttrApplyQualificationReason = "APPLY_QUALIFICATION_REASON"
	AttrHasBooked                = "HAS_BOOKED"
	AttrFunnelStage              = "FUNNEL_STAGE"
)

// Attributes is a flat set of contact attributes. Values must be string or
// bool.
type Attributes map[string]any

// Wire converts the attributes to the vendor's string-typed schema. Booleans
// become "yes" or "no".
func (a Attributes) Wire() (map[string]string, error) {
	out := make(map[string]string, len(a))
	for k, v := range a {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case bool:
			out[k] = yesNo(tv)
		default:
			return nil, model.NewValidationError("attributes."+k, fmt.Sprintf("unsupported attribute type %T", v))
		}
	}
	return out, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Result is the outcome of a successful upsert.
type Result struct {
	Success bool
	// ExternalID is set only when the vendor created the contact.
	ExternalID string
	// Duplicate is true when the vendor reported an existing contact.
	Duplicate bool
}

// Syncer upserts CRM contacts. A nil client means the CRM is not configured.
type Syncer struct {
	client brevo.Client
	listID int64
	log    *zap.Logger
}

// New creates a Syncer. listID <= 0 selects DefaultListID.
func New(client brevo.Client, listID int64) *Syncer {
	if listID <= 0 {
		listID = DefaultListID
	}
	return &Syncer{
		client: client,
		listID: listID,
		log:    zap.L().With(zap.String("component", "crm")),
	}
}

// ListID returns the default list contacts are added to.
func (s *Syncer) ListID() int64 { return s.listID }

// UpsertContact creates or updates the contact keyed by email. listID <= 0
// selects the Syncer's default list.
func (s *Syncer) UpsertContact(ctx context.Context, email string, attrs Attributes, listID int64) (Result, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return Result{}, model.NewValidationError("email", "Email is required")
	}
	if !model.ValidEmail(email) {
		return Result{}, model.NewValidationError("email", "Invalid email format")
	}
	if s.client == nil {
		return Result{}, eris.Wrap(model.ErrConfiguration, "crm: brevo api key not set")
	}
	wire, err := attrs.Wire()
	if err != nil {
		return Result{}, err
	}
	if listID <= 0 {
		listID = s.listID
	}

	resp, err := s.client.CreateContact(ctx, brevo.CreateContactRequest{
		Email:         email,
		Attributes:    wire,
		ListIDs:       []int64{listID},
		UpdateEnabled: true,
	})
	if err != nil {
		var apiErr *brevo.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Duplicate() {
				s.log.Info("crm: contact already exists, treated as updated",
					zap.String("email", model.MaskEmail(email)))
				return Result{Success: true, Duplicate: true}, nil
			}
			s.log.Error("crm: upsert rejected",
				zap.String("email", model.MaskEmail(email)),
				zap.Int("status", apiErr.Status),
				zap.String("code", apiErr.Code),
			)
			return Result{}, eris.Wrap(model.NewSyncError("crm", apiErr.Message, err), "crm: upsert contact")
		}
		s.log.Error("crm: upsert failed", zap.String("email", model.MaskEmail(email)), zap.Error(err))
		return Result{}, eris.Wrap(model.NewSyncError("crm", "", err), "crm: upsert contact")
	}

	res := Result{Success: true}
	if resp != nil && resp.ID != nil {
		res.ExternalID = strconv.FormatInt(*resp.ID, 10)
	}
	return res, nil
}

// AttributesFor builds the attribute snapshot for a record. Absent and empty
// fields are left out so existing vendor values survive. The phone is sent
// with its country code.
func AttributesFor(rec model.LeadRecord, countryCode string) Attributes {
	a := Attributes{}
	putString := func(key string, v *string) {
		if s := model.Deref(v); s != "" {
			a[key] = s
		}
	}
	putBool := func(key string, v *bool) {
		if v != nil {
			a[key] = *v
		}
	}

	putString(AttrFirstName, rec.Name)
	if phone := model.Deref(rec.Phone); phone != "" {
		p := model.Prospect{Phone: phone, CountryCode: countryCode}.E164()
		a[AttrSMS] = p
		a[AttrWhatsApp] = p
	}
	putString(AttrUTMSource, rec.UTMSource)
	putString(AttrUTMMedium, rec.UTMMedium)
	putString(AttrUTMCampaign, rec.UTMCampaign)
	putString(AttrUTMContent, rec.UTMContent)
	putString(AttrUTMTerm, rec.UTMTerm)
	putBool(AttrQualified, rec.Qualified)
	putString(AttrQualificationReason, rec.QualificationReason)
	putString(AttrQualificationCategory, rec.QualificationCategory)
	putBool(AttrApplyQualified, rec.ApplyQualified)
	putString(AttrApplyQualificationReason, rec.ApplyQualificationReason)
	putBool(AttrHasBooked, rec.HasBooked)
	putString(AttrFunnelStage, rec.Stage)
	return a
}
