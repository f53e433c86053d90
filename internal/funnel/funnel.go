// Package funnel drives a prospect through lead capture, the training video,
// the application and the booking call. Each transition validates input,
// screens it, syncs the CRM and the lead sheet, persists the session and
// reports conversion events. Only the first CRM contact creation is allowed
// to fail a transition.
package funnel

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadfunnel/internal/conversion"
	"github.com/sells-group/leadfunnel/internal/crm"
	"github.com/sells-group/leadfunnel/internal/leadlog"
	"github.com/sells-group/leadfunnel/internal/model"
	"github.com/sells-group/leadfunnel/internal/qualify"
	"github.com/sells-group/leadfunnel/internal/resilience"
	"github.com/sells-group/leadfunnel/internal/store"
)

// NotQualifiedReason is logged for a rejected application with no stored
// reason or category.
const NotQualifiedReason = "not_qualified"

// SyncStatus is the result of one integration call within a transition.
type SyncStatus string

// Integration outcomes.
const (
	SyncOK      SyncStatus = "ok"
	SyncFailed  SyncStatus = "failed"
	SyncSkipped SyncStatus = "skipped"
)

// SyncReport records what happened to each integration during a transition.
type SyncReport struct {
	CRM   SyncStatus `json:"crm,omitempty"`
	Sheet SyncStatus `json:"sheet,omitempty"`
}

// Outcome is the result of a transition.
type Outcome struct {
	Step      Step           `json:"step"`
	Route     string         `json:"route"`
	Verdict   *model.Verdict `json:"verdict,omitempty"`
	LeadID    string         `json:"leadId,omitempty"`
	WatchLink string         `json:"watchLink,omitempty"`
	// Reused is set when a stored verdict was returned instead of a new one.
	Reused bool       `json:"reused,omitempty"`
	Sync   SyncReport `json:"sync"`
}

// Deps are the collaborators of a Funnel. Nil integrations are treated as not
// configured.
type Deps struct {
	Store    store.Store
	CRM      *crm.Syncer
	Log      *leadlog.Log
	Reporter *conversion.Reporter
	Breakers *resilience.Breakers

	CountryCode   string
	PublicBaseURL string
	VideoID       string
	// Routes overrides page paths per step.
	Routes map[Step]string
}

// Funnel orchestrates transitions for every session.
type Funnel struct {
	store    store.Store
	crm      *crm.Syncer
	sheet    *leadlog.Log
	reporter *conversion.Reporter
	breakers *resilience.Breakers

	countryCode   string
	publicBaseURL string
	videoID       string
	routes        map[Step]string

	now func() time.Time
	log *zap.Logger
}

// Option configures a Funnel.
type Option func(*Funnel)

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(f *Funnel) {
		f.now = now
	}
}

// New creates a Funnel. Store is required.
func New(d Deps, opts ...Option) *Funnel {
	f := &Funnel{
		store:         d.Store,
		crm:           d.CRM,
		sheet:         d.Log,
		reporter:      d.Reporter,
		breakers:      d.Breakers,
		countryCode:   d.CountryCode,
		publicBaseURL: strings.TrimRight(d.PublicBaseURL, "/"),
		videoID:       d.VideoID,
		routes:        make(map[Step]string, len(defaultRoutes)),
		now:           time.Now,
		log:           zap.L().With(zap.String("component", "funnel")),
	}
	if f.crm == nil {
		f.crm = crm.New(nil, 0)
	}
	if f.sheet == nil {
		f.sheet = leadlog.New(nil, "")
	}
	if f.reporter == nil {
		f.reporter = conversion.New(nil, "")
	}
	if f.breakers == nil {
		f.breakers = resilience.NewBreakers(resilience.DefaultConfig())
	}
	if f.countryCode == "" {
		f.countryCode = model.DefaultCountryCode
	}
	for step, path := range defaultRoutes {
		f.routes[step] = path
	}
	for step, path := range d.Routes {
		if path != "" {
			f.routes[step] = path
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Route returns the page path for a step.
func (f *Funnel) Route(s Step) string {
	return f.routes[s]
}

// EntryRoute is where a prospect without a session is sent.
func (f *Funnel) EntryRoute() string {
	return f.Route(StepLeadCapture)
}

// Wait blocks until background conversion reports have finished.
func (f *Funnel) Wait() {
	f.reporter.Wait()
}

// WatchLink builds the link to the training page for a new lead.
func WatchLink(baseURL, leadID string) string {
	q := url.Values{}
	q.Set("lead_id", leadID)
	q.Set("utm_source", "landing")
	q.Set("utm_medium", "form")
	q.Set("new_lead", "true")
	return strings.TrimRight(baseURL, "/") + "/watch?" + q.Encode()
}

// FallbackLeadID derives a lead id from the email's local part and the time.
// It is unique in practice but a retried capture can produce a second id.
func FallbackLeadID(email string, t time.Time) string {
	return model.LocalPart(email) + strconv.FormatInt(t.UnixMilli(), 10)
}

// Land records UTM attribution from the landing URL and reports a page view.
// A prospect already in the funnel is routed back to their current step.
func (f *Funnel) Land(ctx context.Context, sid string, query url.Values, sig conversion.Signals) (Outcome, error) {
	state, err := f.store.Get(ctx, sid)
	if err != nil {
		return Outcome{}, eris.Wrap(err, "funnel: load session")
	}
	if utm := model.UTMFromQuery(query); !utm.IsZero() {
		if err := f.store.Set(ctx, sid, model.SessionState{UTM: &utm}); err != nil {
			return Outcome{}, eris.Wrap(err, "funnel: save utm")
		}
	}

	f.report(ctx, conversion.EventPageView, state, map[string]any{"content_name": "Landing Page"}, sig)

	step := StepLeadCapture
	if state.Entered() {
		step = CurrentStep(state)
	}
	return f.outcome(step), nil
}

// CaptureLead screens a lead form and creates the CRM contact. A CRM failure
// fails the transition and leaves the session untouched so the prospect can
// retry. A session that already holds a lead verdict returns it unchanged.
func (f *Funnel) CaptureLead(ctx context.Context, sid string, form model.LeadForm, sig conversion.Signals) (Outcome, error) {
	form = form.Normalize(f.countryCode)
	if err := form.Validate(); err != nil {
		return Outcome{}, err
	}

	state, err := f.store.Get(ctx, sid)
	if err != nil {
		return Outcome{}, eris.Wrap(err, "funnel: load session")
	}
	if state.Entered() && state.LeadData.Qualification != nil {
		return f.leadOutcome(state.LeadData, true), nil
	}
	if err := guard(state, StepLeadCapture); err != nil {
		return Outcome{}, err
	}

	verdict := qualify.LeadScreening(form.EmploymentStatus, form.YearsOfExperience)
	prospect := form.Prospect(f.countryCode, state.Attribution())
	rec := model.LeadRecord{
		Email:             model.Ptr(prospect.Email),
		Name:              model.Ptr(prospect.Name),
		Phone:             model.Ptr(prospect.Phone),
		EmploymentStatus:  model.Ptr(string(form.EmploymentStatus)),
		YearsOfExperience: model.Ptr(string(form.YearsOfExperience)),
		MonthlySalary:     model.Ptr(form.MonthlySalary),
	}.WithUTM(prospect.UTM).WithLeadVerdict(verdict).WithStage(model.StageLead)

	log := f.log.With(zap.String("email", model.MaskEmail(prospect.Email)))

	res, err := resilience.Call(ctx, f.breakers.Get(resilience.IntegrationCRM), func(ctx context.Context) (crm.Result, error) {
		return f.crm.UpsertContact(ctx, prospect.Email, crm.AttributesFor(rec, f.countryCode), 0)
	})
	if err != nil {
		log.Error("funnel: lead capture crm sync failed", zap.Error(err))
		if resilience.IsOpen(err) {
			return Outcome{}, model.NewSyncError(resilience.IntegrationCRM, "CRM temporarily unavailable", err)
		}
		return Outcome{}, eris.Wrap(err, "funnel: capture lead")
	}

	now := f.now()
	leadID := res.ExternalID
	if leadID == "" {
		leadID = FallbackLeadID(prospect.Email, now)
	}

	lead := &model.LeadData{
		LeadID:        leadID,
		Email:         prospect.Email,
		Qualification: &verdict,
		Timestamp:     now,
	}
	err = f.store.Set(ctx, sid, model.SessionState{
		LeadData: lead,
		LeadForm: &model.LeadFormData{Name: prospect.Name, Email: prospect.Email, Phone: prospect.Phone},
	})
	if err != nil {
		return Outcome{}, eris.Wrap(err, "funnel: save lead")
	}

	sheetRec := rec
	sheetRec.Phone = model.Ptr(prospect.E164())
	out := f.leadOutcome(lead, false)
	out.Sync.CRM = SyncOK
	out.Sync.Sheet = f.bestEffort(ctx, resilience.IntegrationSheet, func(ctx context.Context) error {
		_, err := f.sheet.Upsert(ctx, leadlog.IntentCreate, sheetRec)
		return err
	})

	f.reportTo(ctx, conversion.EventLead, prospect.Email, prospect.E164(), map[string]any{
		"content_name":     "VSL Webinar",
		"content_category": "Lead Generation",
		"lead_id":          leadID,
	}, sig)

	log.Info("funnel: lead captured",
		zap.String("lead_id", leadID),
		zap.Bool("qualified", verdict.Qualified),
		zap.String("reason", string(verdict.Reason)),
		zap.String("sheet", string(out.Sync.Sheet)),
	)
	return out, nil
}

// Watch marks the training as watched.
func (f *Funnel) Watch(ctx context.Context, sid string, sig conversion.Signals) (Outcome, error) {
	state, err := f.entered(ctx, sid)
	if err != nil {
		return Outcome{}, err
	}
	if err := guard(state, StepWatch); err != nil {
		return Outcome{}, err
	}

	email := state.LeadData.Email
	rec := model.LeadRecord{Email: model.Ptr(email)}.WithStage(model.StageWatched)
	out := f.outcome(StepApplication)
	out.LeadID = state.LeadData.LeadID
	out.Sync = f.dispatch(ctx, rec)

	custom := map[string]any{"content_name": "Design Career Webinar", "content_category": "Video"}
	if f.videoID != "" {
		custom["content_ids"] = []string{f.videoID}
	}
	f.report(ctx, conversion.EventViewContent, state, custom, sig)
	return out, nil
}

// StartApplication reports that the prospect opened the application.
func (f *Funnel) StartApplication(ctx context.Context, sid string, sig conversion.Signals) (Outcome, error) {
	state, err := f.entered(ctx, sid)
	if err != nil {
		return Outcome{}, err
	}
	if err := guard(state, StepApplication); err != nil {
		return Outcome{}, err
	}

	f.report(ctx, conversion.EventInitiateCheckout, state, map[string]any{
		"content_name":     "Application Form",
		"content_category": "Apply",
		"lead_id":          state.LeadData.LeadID,
	}, sig)

	out := f.outcome(StepApplication)
	out.LeadID = state.LeadData.LeadID
	return out, nil
}

// SubmitApplication screens the application. A session that already holds an
// application verdict gets it back without re-evaluation.
func (f *Funnel) SubmitApplication(ctx context.Context, sid string, form model.ApplicationForm, sig conversion.Signals) (Outcome, error) {
	state, err := f.entered(ctx, sid)
	if err != nil {
		return Outcome{}, err
	}
	if state.ApplyQualification != nil {
		out := f.applyOutcome(state.ApplyQualification.Verdict)
		out.LeadID = state.LeadData.LeadID
		out.Reused = true
		return out, nil
	}
	if err := guard(state, StepApplication); err != nil {
		return Outcome{}, err
	}
	if err := form.Validate(); err != nil {
		return Outcome{}, err
	}

	verdict := qualify.ApplicationScreening(form.InvestmentReadiness, form.Timeline)
	err = f.store.Set(ctx, sid, model.SessionState{
		ApplyQualification: &model.ApplyQualification{Verdict: verdict, Timestamp: f.now()},
	})
	if err != nil {
		return Outcome{}, eris.Wrap(err, "funnel: save application verdict")
	}

	stage := model.StageAppliedQualified
	if !verdict.Qualified {
		stage = model.StageAppliedDisqualified
	}
	rec := form.Record()
	rec.Email = model.Ptr(state.LeadData.Email)
	rec = rec.WithApplyVerdict(verdict).WithStage(stage)

	out := f.applyOutcome(verdict)
	out.LeadID = state.LeadData.LeadID
	out.Sync = f.dispatch(ctx, rec)

	if verdict.Qualified {
		f.report(ctx, conversion.EventSubmitApplication, state, map[string]any{
			"content_name": "Application Form",
			"qualified":    true,
			"lead_id":      state.LeadData.LeadID,
		}, sig)
	} else {
		f.report(ctx, conversion.EventApplicationRejected, state, map[string]any{
			"rejection_category": string(verdict.Category),
			"rejection_reason":   string(verdict.Reason),
		}, sig)
	}

	f.log.Info("funnel: application screened",
		zap.String("email", model.MaskEmail(state.LeadData.Email)),
		zap.Bool("qualified", verdict.Qualified),
		zap.String("reason", string(verdict.Reason)),
	)
	return out, nil
}

// ConfirmBooking handles the booking widget's confirmation for a qualified
// applicant.
func (f *Funnel) ConfirmBooking(ctx context.Context, sid string, conf model.BookingConfirmation, sig conversion.Signals) (Outcome, error) {
	state, err := f.entered(ctx, sid)
	if err != nil {
		return Outcome{}, err
	}
	if err := guard(state, StepConfirmation); err != nil {
		return Outcome{}, err
	}

	bookedAt := conf.BookedAt
	if bookedAt.IsZero() {
		bookedAt = f.now()
	}
	rec := model.LeadRecord{
		Email:       model.Ptr(state.LeadData.Email),
		HasBooked:   model.Ptr(true),
		BookingDate: model.Ptr(model.Timestamp(bookedAt)),
	}.WithStage(model.StageBooked)

	f.log.Info("funnel: booking confirmed",
		zap.String("lead_id", state.LeadData.LeadID),
		zap.Time("booked_at", bookedAt),
		zap.Any("details", conf.Details),
	)

	out := f.outcome(StepConfirmation)
	out.LeadID = state.LeadData.LeadID
	out.Sync = f.dispatch(ctx, rec)

	f.report(ctx, conversion.EventSchedule, state, map[string]any{
		"content_name":     "Strategy Call Booked",
		"content_category": "Appointment",
		"lead_id":          state.LeadData.LeadID,
	}, sig)
	return out, nil
}

// RejectAcknowledged records that a rejected applicant reached the exit page
// so follow-up resources can be sent.
func (f *Funnel) RejectAcknowledged(ctx context.Context, sid string) (Outcome, error) {
	state, err := f.entered(ctx, sid)
	if err != nil {
		return Outcome{}, err
	}
	if err := guard(state, StepApplyRejected); err != nil {
		return Outcome{}, err
	}

	v := state.ApplyQualification.Verdict
	reason := string(v.Reason)
	if reason == "" {
		reason = string(v.Category)
	}
	if reason == "" {
		reason = NotQualifiedReason
	}
	rec := model.LeadRecord{
		Email:                    model.Ptr(state.LeadData.Email),
		ApplyQualified:           model.Ptr(false),
		ApplyQualificationReason: model.Ptr(reason),
	}.WithStage(model.StageApplyRejected)

	out := f.applyOutcome(v)
	out.LeadID = state.LeadData.LeadID
	out.Sync = f.dispatch(ctx, rec)
	return out, nil
}

// Restart clears the session so the prospect starts a new lifecycle. CRM and
// sheet history stay keyed by email.
func (f *Funnel) Restart(ctx context.Context, sid string) (Outcome, error) {
	if err := f.store.Clear(ctx, sid); err != nil {
		return Outcome{}, eris.Wrap(err, "funnel: clear session")
	}
	return f.outcome(StepLeadCapture), nil
}

// Session returns the stored state or ErrNoSession.
func (f *Funnel) Session(ctx context.Context, sid string) (*model.SessionState, error) {
	return f.entered(ctx, sid)
}

func (f *Funnel) entered(ctx context.Context, sid string) (*model.SessionState, error) {
	state, err := f.store.Get(ctx, sid)
	if err != nil {
		return nil, eris.Wrap(err, "funnel: load session")
	}
	if !state.Entered() {
		return nil, model.ErrNoSession
	}
	return state, nil
}

func (f *Funnel) outcome(s Step) Outcome {
	return Outcome{Step: s, Route: f.Route(s)}
}

func (f *Funnel) leadOutcome(lead *model.LeadData, reused bool) Outcome {
	step := StepDisqualified
	if lead.Qualification != nil && lead.Qualification.Qualified {
		step = StepWatch
	}
	out := f.outcome(step)
	out.Verdict = lead.Qualification
	out.LeadID = lead.LeadID
	out.Reused = reused
	if step == StepWatch {
		out.WatchLink = WatchLink(f.publicBaseURL, lead.LeadID)
	}
	return out
}

func (f *Funnel) applyOutcome(v model.Verdict) Outcome {
	step := StepApplyRejected
	if v.Qualified {
		step = StepBooking
	}
	out := f.outcome(step)
	out.Verdict = &v
	return out
}

// dispatch pushes rec to the sheet and the CRM concurrently. Neither failure
// affects the other or the caller.
func (f *Funnel) dispatch(ctx context.Context, rec model.LeadRecord) SyncReport {
	var report SyncReport
	var g errgroup.Group
	g.Go(func() error {
		report.Sheet = f.bestEffort(ctx, resilience.IntegrationSheet, func(ctx context.Context) error {
			_, err := f.sheet.Upsert(ctx, leadlog.IntentUpdate, rec)
			return err
		})
		return nil
	})
	g.Go(func() error {
		report.CRM = f.bestEffort(ctx, resilience.IntegrationCRM, func(ctx context.Context) error {
			_, err := f.crm.UpsertContact(ctx, model.Deref(rec.Email), crm.AttributesFor(rec, f.countryCode), 0)
			return err
		})
		return nil
	})
	_ = g.Wait()
	return report
}

// bestEffort runs fn behind the integration's breaker and logs any failure.
func (f *Funnel) bestEffort(ctx context.Context, integration string, fn func(context.Context) error) SyncStatus {
	err := f.breakers.Get(integration).Do(ctx, fn)
	switch {
	case err == nil:
		return SyncOK
	case resilience.IsOpen(err), model.IsConfiguration(err):
		f.log.Debug("funnel: integration skipped", zap.String("integration", integration), zap.Error(err))
		return SyncSkipped
	default:
		f.log.Warn("funnel: best-effort sync failed",
			zap.String("integration", integration),
			zap.Bool("vendor_error", model.IsSyncFailure(err)),
			zap.Error(err),
		)
		return SyncFailed
	}
}

func (f *Funnel) report(ctx context.Context, name string, state *model.SessionState, custom map[string]any, sig conversion.Signals) {
	var email, phone string
	if state != nil {
		if state.LeadData != nil {
			email = state.LeadData.Email
		}
		if state.LeadForm != nil && state.LeadForm.Phone != "" {
			phone = model.Prospect{Phone: state.LeadForm.Phone, CountryCode: f.countryCode}.E164()
		}
	}
	f.reportTo(ctx, name, email, phone, custom, sig)
}

func (f *Funnel) reportTo(ctx context.Context, name, email, phone string, custom map[string]any, sig conversion.Signals) {
	f.reporter.ReportAsync(ctx, conversion.Event{
		Name:       name,
		Email:      email,
		Phone:      phone,
		CustomData: custom,
		Signals:    sig,
	})
}
