package funnel

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/leadfunnel/internal/conversion"
	"github.com/sells-group/leadfunnel/internal/crm"
	"github.com/sells-group/leadfunnel/internal/model"
	"github.com/sells-group/leadfunnel/internal/resilience"
	"github.com/sells-group/leadfunnel/pkg/brevo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var sig = conversion.Signals{FBP: "fb.1.abc", ClientIP: "203.0.113.7", UserAgent: "Mozilla/5.0"}

func TestWatchLink(t *testing.T) {
	assert.Equal(t,
		"https://example.com/watch?lead_id=101&new_lead=true&utm_medium=form&utm_source=landing",
		WatchLink("https://example.com/", "101"))
}

func TestFallbackLeadID(t *testing.T) {
	ts := time.UnixMilli(1767225600123)
	assert.Equal(t, "jane1767225600123", FallbackLeadID("JANE@Example.com", ts))
}

func TestCaptureLead_QualifiedScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	out, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)

	assert.Equal(t, StepWatch, out.Step)
	assert.Equal(t, "/watch", out.Route)
	assert.Equal(t, &model.Verdict{Qualified: true, Reason: model.ReasonMeetsAllCriteria, Category: model.CategoryQualified}, out.Verdict)
	assert.Equal(t, "101", out.LeadID)
	assert.Equal(t, WatchLink("https://example.com", "101"), out.WatchLink)
	assert.Equal(t, SyncReport{CRM: SyncOK, Sheet: SyncOK}, out.Sync)

	reqs := h.brevo.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "jane@example.com", reqs[0].Email)
	assert.Equal(t, []int64{crm.DefaultListID}, reqs[0].ListIDs)
	assert.Equal(t, "+919876543210", reqs[0].Attributes[crm.AttrSMS])
	assert.Equal(t, "yes", reqs[0].Attributes[crm.AttrQualified])
	assert.Equal(t, "lead", reqs[0].Attributes[crm.AttrFunnelStage])

	state, err := h.funnel.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "101", state.LeadData.LeadID)
	assert.Equal(t, "jane@example.com", state.LeadData.Email)
	assert.Equal(t, testNow, state.LeadData.Timestamp)
	assert.Equal(t, &model.LeadFormData{Name: "Jane Doe", Email: "jane@example.com", Phone: "9876543210"}, state.LeadForm)

	row := h.row(t, "jane@example.com")
	assert.Equal(t, "+919876543210", row["phone"])
	assert.Equal(t, "yes", row["qualified"])
	assert.Equal(t, "lead", row["stage"])

	h.funnel.Wait()
	ev, ok := h.capi.byName(conversion.EventLead)
	require.True(t, ok)
	assert.Equal(t, []string{conversion.Hash("jane@example.com")}, ev.UserData.Email)
	assert.Equal(t, "101", ev.CustomData["lead_id"])
	assert.Equal(t, "fb.1.abc", ev.UserData.FBP)
}

func TestCaptureLead_DisqualifiedNeverReachesWatchOrApply(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	form := janeLead()
	form.EmploymentStatus = model.EmployedNo
	out, err := h.funnel.CaptureLead(ctx, "s1", form, sig)
	require.NoError(t, err)

	assert.Equal(t, "/disqualified", out.Route)
	assert.Equal(t, &model.Verdict{Reason: model.ReasonNotEmployed, Category: model.CategoryEmployment}, out.Verdict)
	assert.Empty(t, out.WatchLink)
	assert.Equal(t, "no", h.row(t, "jane@example.com")["qualified"], "disqualified leads are still logged")

	var te *TransitionError
	_, err = h.funnel.Watch(ctx, "s1", sig)
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StepDisqualified, te.From)

	_, err = h.funnel.StartApplication(ctx, "s1", sig)
	assert.True(t, errors.As(err, &te))

	_, err = h.funnel.SubmitApplication(ctx, "s1", application(model.ReadyToInvest, model.TimelineASAP), sig)
	assert.True(t, errors.As(err, &te))
}

func TestCaptureLead_CRMFailureWritesNoSession(t *testing.T) {
	h := newHarness(t, nil)
	h.brevo.setErr(&brevo.APIError{Status: http.StatusInternalServerError, Message: "upstream exploded"})
	ctx := context.Background()

	_, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.True(t, model.IsSyncFailure(err))
	var se *model.SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "upstream exploded", se.Message)

	_, err = h.funnel.Session(ctx, "s1")
	assert.ErrorIs(t, err, model.ErrNoSession)
	assert.Zero(t, h.sheet.dataRows())

	// The prospect may retry once the CRM recovers.
	h.brevo.setErr(nil)
	out, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)
	assert.Equal(t, "/watch", out.Route)
}

func TestCaptureLead_DuplicateContactUsesFallbackID(t *testing.T) {
	h := newHarness(t, nil)
	h.brevo.setErr(&brevo.APIError{Status: http.StatusBadRequest, Code: brevo.CodeDuplicateParameter, Message: "Contact already exist"})

	out, err := h.funnel.CaptureLead(context.Background(), "s1", janeLead(), sig)
	require.NoError(t, err)
	assert.Equal(t, FallbackLeadID("jane@example.com", testNow), out.LeadID)
	assert.Equal(t, SyncOK, out.Sync.CRM)
}

func TestCaptureLead_UpdatedContactUsesFallbackID(t *testing.T) {
	h := newHarness(t, nil)
	h.brevo.nextID = 0

	out, err := h.funnel.CaptureLead(context.Background(), "s1", janeLead(), sig)
	require.NoError(t, err)
	assert.Equal(t, "jane1772359200000", out.LeadID)
}

func TestCaptureLead_ValidationMakesNoCalls(t *testing.T) {
	h := newHarness(t, nil)
	form := janeLead()
	form.Phone = "12345"
	form.Email = "not-an-email"

	_, err := h.funnel.CaptureLead(context.Background(), "s1", form, sig)
	require.True(t, model.IsValidation(err))
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "phone")
	assert.Contains(t, ve.Fields, "email")

	assert.Empty(t, h.brevo.requests())
	assert.Zero(t, h.sheet.dataRows())
	h.funnel.Wait()
	assert.Empty(t, h.capi.names())
}

func TestCaptureLead_SheetFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t, nil)
	h.sheet.setGetErr(errors.New("quota exceeded"))

	out, err := h.funnel.CaptureLead(context.Background(), "s1", janeLead(), sig)
	require.NoError(t, err)
	assert.Equal(t, "/watch", out.Route)
	assert.Equal(t, SyncFailed, out.Sync.Sheet)
	assert.Equal(t, SyncOK, out.Sync.CRM)
}

func TestCaptureLead_VerdictIsNotReevaluated(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	form := janeLead()
	form.YearsOfExperience = model.ExperienceUnder2
	first, err := h.funnel.CaptureLead(ctx, "s1", form, sig)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonInsufficientExperience, first.Verdict.Reason)

	second, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, "/disqualified", second.Route)
	assert.Len(t, h.brevo.requests(), 1)
}

func TestLand_CapturesUTMForLaterSync(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	q, _ := url.ParseQuery("utm_source=facebook&utm_medium=cpc&utm_campaign=spring")
	out, err := h.funnel.Land(ctx, "s1", q, sig)
	require.NoError(t, err)
	assert.Equal(t, "/getstarted", out.Route)

	_, err = h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)

	attrs := h.brevo.requests()[0].Attributes
	assert.Equal(t, "facebook", attrs[crm.AttrUTMSource])
	assert.Equal(t, "cpc", attrs[crm.AttrUTMMedium])
	assert.Equal(t, "spring", attrs[crm.AttrUTMCampaign])
	assert.Equal(t, "facebook", h.row(t, "jane@example.com")["utm_source"])

	// Landing again resumes at the current step.
	out, err = h.funnel.Land(ctx, "s1", url.Values{}, sig)
	require.NoError(t, err)
	assert.Equal(t, "/watch", out.Route)

	h.funnel.Wait()
	assert.Contains(t, h.capi.names(), conversion.EventPageView)
}

func TestPostCaptureOperations_RequireSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.funnel.Watch(ctx, "nobody", sig)
	assert.ErrorIs(t, err, model.ErrNoSession)
	_, err = h.funnel.StartApplication(ctx, "nobody", sig)
	assert.ErrorIs(t, err, model.ErrNoSession)
	_, err = h.funnel.SubmitApplication(ctx, "nobody", application(model.ReadyToInvest, model.TimelineASAP), sig)
	assert.ErrorIs(t, err, model.ErrNoSession)
	_, err = h.funnel.ConfirmBooking(ctx, "nobody", model.BookingConfirmation{}, sig)
	assert.ErrorIs(t, err, model.ErrNoSession)
	_, err = h.funnel.RejectAcknowledged(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrNoSession)
	assert.Equal(t, "/getstarted", h.funnel.EntryRoute())
}

func TestQualifiedJourney(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)

	out, err := h.funnel.Watch(ctx, "s1", sig)
	require.NoError(t, err)
	assert.Equal(t, "/apply", out.Route)
	assert.Equal(t, SyncReport{CRM: SyncOK, Sheet: SyncOK}, out.Sync)
	assert.Equal(t, "watched", h.row(t, "jane@example.com")["stage"])

	out, err = h.funnel.StartApplication(ctx, "s1", sig)
	require.NoError(t, err)
	assert.Equal(t, "/apply", out.Route)

	// Booking before the application is screened is not allowed.
	_, err = h.funnel.ConfirmBooking(ctx, "s1", model.BookingConfirmation{}, sig)
	var te *TransitionError
	require.True(t, errors.As(err, &te))

	out, err = h.funnel.SubmitApplication(ctx, "s1", application(model.NeedToUnderstand, model.Timeline30Days), sig)
	require.NoError(t, err)
	assert.Equal(t, StepBooking, out.Step)
	assert.Equal(t, "/book", out.Route)
	assert.True(t, out.Verdict.Qualified)

	row := h.row(t, "jane@example.com")
	assert.Equal(t, "applied_qualified", row["stage"])
	assert.Equal(t, "yes", row["apply_qualified"])
	assert.Equal(t, "Acme", row["current_company"])
	assert.Equal(t, "Jane Doe", row["name"], "earlier cells survive the update")

	bookedAt := time.Date(2026, 3, 5, 15, 30, 0, 0, time.UTC)
	out, err = h.funnel.ConfirmBooking(ctx, "s1", model.BookingConfirmation{BookedAt: bookedAt}, sig)
	require.NoError(t, err)
	assert.Equal(t, "/congratulations", out.Route)

	row = h.row(t, "jane@example.com")
	assert.Equal(t, "booked", row["stage"])
	assert.Equal(t, "yes", row["has_booked"])
	assert.Equal(t, "2026-03-05T15:30:00.000Z", row["booking_date"])
	assert.Equal(t, 1, h.sheet.dataRows())

	reqs := h.brevo.requests()
	assert.Equal(t, "booked", reqs[len(reqs)-1].Attributes[crm.AttrFunnelStage])
	assert.Equal(t, "yes", reqs[len(reqs)-1].Attributes[crm.AttrHasBooked])

	h.funnel.Wait()
	names := h.capi.names()
	sort.Strings(names)
	assert.Equal(t, []string{
		conversion.EventInitiateCheckout,
		conversion.EventLead,
		conversion.EventSchedule,
		conversion.EventSubmitApplication,
		conversion.EventViewContent,
	}, names)

	ev, _ := h.capi.byName(conversion.EventViewContent)
	assert.Equal(t, []string{"vid123"}, ev.CustomData["content_ids"])
}

func TestConfirmBooking_LogsWidgetDetails(t *testing.T) {
	h := newHarness(t, nil)
	core, logs := observer.New(zap.InfoLevel)
	h.funnel.log = zap.New(core)
	ctx := context.Background()

	_, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)
	_, err = h.funnel.SubmitApplication(ctx, "s1", application(model.NeedToUnderstand, model.Timeline30Days), sig)
	require.NoError(t, err)

	details := map[string]any{"eventTypeName": "Strategy Call"}
	_, err = h.funnel.ConfirmBooking(ctx, "s1", model.BookingConfirmation{Details: details}, sig)
	require.NoError(t, err)

	entries := logs.FilterMessage("funnel: booking confirmed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, details, entries[0].ContextMap()["details"])
}

func TestRejectedJourney(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)

	out, err := h.funnel.SubmitApplication(ctx, "s1", application(model.CannotInvest, model.TimelineOver90Days), sig)
	require.NoError(t, err)
	assert.Equal(t, "/apply-rejected", out.Route)
	assert.Equal(t, &model.Verdict{Reason: model.ReasonCannotInvestLong, Category: model.CategoryBoth}, out.Verdict)
	assert.Equal(t, "applied_disqualified", h.row(t, "jane@example.com")["stage"])

	out, err = h.funnel.RejectAcknowledged(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "/apply-rejected", out.Route)
	row := h.row(t, "jane@example.com")
	assert.Equal(t, "apply_rejected", row["stage"])
	assert.Equal(t, "no", row["apply_qualified"])
	assert.Equal(t, "cannot_invest_and_long_timeline", row["apply_qualification_reason"])

	_, err = h.funnel.ConfirmBooking(ctx, "s1", model.BookingConfirmation{}, sig)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StepApplyRejected, te.From)

	h.funnel.Wait()
	ev, ok := h.capi.byName(conversion.EventApplicationRejected)
	require.True(t, ok)
	assert.Equal(t, "both", ev.CustomData["rejection_category"])
}

func TestSubmitApplication_StoredVerdictIsReused(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)
	first, err := h.funnel.SubmitApplication(ctx, "s1", application(model.CannotInvest, model.TimelineASAP), sig)
	require.NoError(t, err)
	calls := len(h.brevo.requests())

	second, err := h.funnel.SubmitApplication(ctx, "s1", application(model.ReadyToInvest, model.TimelineASAP), sig)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, "/apply-rejected", second.Route)
	assert.Len(t, h.brevo.requests(), calls, "no sync on reuse")
}

func TestSubmitApplication_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)

	form := application(model.ReadyToInvest, model.TimelineASAP)
	form.WhyImportant = "short"
	_, err = h.funnel.SubmitApplication(ctx, "s1", form, sig)
	assert.True(t, model.IsValidation(err))

	state, err := h.funnel.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, state.ApplyQualification)
}

func TestDispatch_FailuresAreIndependent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)

	h.brevo.setErr(errors.New("connection reset"))
	out, err := h.funnel.Watch(ctx, "s1", sig)
	require.NoError(t, err)
	assert.Equal(t, SyncReport{CRM: SyncFailed, Sheet: SyncOK}, out.Sync)
	assert.Equal(t, "watched", h.row(t, "jane@example.com")["stage"])
}

func TestDispatch_OpenBreakerSkips(t *testing.T) {
	h := newHarness(t, resilience.NewBreakers(resilience.FromConfig(1, 3600)))
	ctx := context.Background()
	_, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)

	h.sheet.setGetErr(errors.New("quota exceeded"))
	out, err := h.funnel.Watch(ctx, "s1", sig)
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, out.Sync.Sheet)

	out, err = h.funnel.Watch(ctx, "s1", sig)
	require.NoError(t, err)
	assert.Equal(t, SyncSkipped, out.Sync.Sheet)
	assert.Equal(t, SyncOK, out.Sync.CRM)
}

func TestCaptureLead_OpenCRMBreakerFails(t *testing.T) {
	h := newHarness(t, resilience.NewBreakers(resilience.FromConfig(1, 3600)))
	h.brevo.setErr(errors.New("connection reset"))
	ctx := context.Background()

	_, err := h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.Error(t, err)

	_, err = h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.True(t, model.IsSyncFailure(err))
	assert.True(t, resilience.IsOpen(err))
	assert.Len(t, h.brevo.requests(), 1)
}

func TestUnconfiguredIntegrationsAreSkipped(t *testing.T) {
	h := newHarness(t, nil)
	f := New(Deps{Store: h.store, CRM: crm.New(h.brevo, 0)}, WithClock(func() time.Time { return testNow }))
	ctx := context.Background()

	out, err := f.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)
	assert.Equal(t, SyncSkipped, out.Sync.Sheet)
	f.Wait()
}

func TestCaptureLead_CRMNotConfigured(t *testing.T) {
	h := newHarness(t, nil)
	f := New(Deps{Store: h.store})

	_, err := f.CaptureLead(context.Background(), "s1", janeLead(), sig)
	assert.True(t, model.IsConfiguration(err))
}

func TestRestart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	form := janeLead()
	form.EmploymentStatus = model.EmployedNo
	_, err := h.funnel.CaptureLead(ctx, "s1", form, sig)
	require.NoError(t, err)

	out, err := h.funnel.Restart(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "/getstarted", out.Route)
	_, err = h.funnel.Session(ctx, "s1")
	assert.ErrorIs(t, err, model.ErrNoSession)

	out, err = h.funnel.CaptureLead(ctx, "s1", janeLead(), sig)
	require.NoError(t, err)
	assert.Equal(t, "/watch", out.Route)
	assert.Equal(t, 1, h.sheet.dataRows(), "the sheet row is reused by email")
}

func TestRoutesOverride(t *testing.T) {
	h := newHarness(t, nil)
	f := New(Deps{Store: h.store, Routes: map[Step]string{StepWatch: "/training"}})
	assert.Equal(t, "/training", f.Route(StepWatch))
	assert.Equal(t, "/book", f.Route(StepBooking))
}
