package model

import "time"

// Stage is the funnel position recorded against a prospect in the CRM and
// the lead sheet.
type Stage string

// Recorded funnel stages.
const (
	StageLead                Stage = "lead"
	StageWatched             Stage = "watched"
	StageAppliedQualified    Stage = "applied_qualified"
	StageAppliedDisqualified Stage = "applied_disqualified"
	StageApplyRejected       Stage = "apply_rejected"
	StageBooked              Stage = "booked"
)

// Valid reports enum membership.
func (s Stage) Valid() bool {
	switch s {
	case StageLead, StageWatched, StageAppliedQualified, StageAppliedDisqualified, StageApplyRejected, StageBooked:
		return true
	}
	return false
}

// LeadRecord is the attribute bundle synchronized to the CRM and the lead
// sheet. Every field is optional: a nil field means "not supplied", which is
// distinct from an empty value and lets updates merge at field level.
type LeadRecord struct {
	Email                    *string `json:"email,omitempty"`
	Name                     *string `json:"name,omitempty"`
	Phone                    *string `json:"phone,omitempty"`
	EmploymentStatus         *string `json:"employmentStatus,omitempty"`
	YearsOfExperience        *string `json:"yearsOfExperience,omitempty"`
	MonthlySalary            *string `json:"monthlySalary,omitempty"`
	Qualified                *bool   `json:"qualified,omitempty"`
	QualificationReason      *string `json:"qualificationReason,omitempty"`
	QualificationCategory    *string `json:"qualificationCategory,omitempty"`
	UTMSource                *string `json:"utm_source,omitempty"`
	UTMMedium                *string `json:"utm_medium,omitempty"`
	UTMCampaign              *string `json:"utm_campaign,omitempty"`
	UTMContent               *string `json:"utm_content,omitempty"`
	UTMTerm                  *string `json:"utm_term,omitempty"`
	LinkedInURL              *string `json:"linkedinUrl,omitempty"`
	CurrentRole              *string `json:"currentRole,omitempty"`
	CurrentCompany           *string `json:"currentCompany,omitempty"`
	TargetRole               *string `json:"targetRole,omitempty"`
	TargetSalary             *string `json:"targetSalary,omitempty"`
	BlockingIssue            *string `json:"blockingIssue,omitempty"`
	WhyImportant             *string `json:"whyImportant,omitempty"`
	InvestmentReadiness      *string `json:"investmentReadiness,omitempty"`
	Timeline                 *string `json:"timeline,omitempty"`
	ApplyQualified           *bool   `json:"applyQualified,omitempty"`
	ApplyQualificationReason *string `json:"applyQualificationReason,omitempty"`
	HasBooked                *bool   `json:"hasBooked,omitempty"`
	BookingDate              *string `json:"bookingDate,omitempty"`
	Stage                    *string `json:"stage,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns *p or the zero value when p is nil.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// EmailKey returns the normalized email or "" when absent.
func (r LeadRecord) EmailKey() string {
	return NormalizeEmail(Deref(r.Email))
}

// WithUTM sets every UTM field from the attribution, including empty ones.
func (r LeadRecord) WithUTM(u UTMAttribution) LeadRecord {
	r.UTMSource = Ptr(u.Source)
	r.UTMMedium = Ptr(u.Medium)
	r.UTMCampaign = Ptr(u.Campaign)
	r.UTMContent = Ptr(u.Content)
	r.UTMTerm = Ptr(u.Term)
	return r
}

// WithLeadVerdict flattens a lead-screening verdict into the record.
func (r LeadRecord) WithLeadVerdict(v Verdict) LeadRecord {
	r.Qualified = Ptr(v.Qualified)
	r.QualificationReason = Ptr(string(v.Reason))
	r.QualificationCategory = Ptr(string(v.Category))
	return r
}

// WithApplyVerdict flattens an application-screening verdict into the record.
func (r LeadRecord) WithApplyVerdict(v Verdict) LeadRecord {
	r.ApplyQualified = Ptr(v.Qualified)
	r.ApplyQualificationReason = Ptr(string(v.Reason))
	return r
}

// WithStage sets the recorded stage.
func (r LeadRecord) WithStage(s Stage) LeadRecord {
	r.Stage = Ptr(string(s))
	return r
}

// Timestamp formats t the way the lead sheet stores it.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
