package funnel

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadfunnel/internal/conversion"
	"github.com/sells-group/leadfunnel/internal/crm"
	"github.com/sells-group/leadfunnel/internal/leadlog"
	"github.com/sells-group/leadfunnel/internal/model"
	"github.com/sells-group/leadfunnel/internal/resilience"
	"github.com/sells-group/leadfunnel/internal/store"
	"github.com/sells-group/leadfunnel/pkg/brevo"
	"github.com/sells-group/leadfunnel/pkg/metacapi"
)

// --- Brevo fake ---

type fakeBrevo struct {
	mu     sync.Mutex
	reqs   []brevo.CreateContactRequest
	nextID int64
	err    error
}

func (f *fakeBrevo) CreateContact(_ context.Context, req brevo.CreateContactRequest) (*brevo.CreateContactResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.nextID == 0 {
		return &brevo.CreateContactResponse{}, nil
	}
	id := f.nextID
	f.nextID++
	return &brevo.CreateContactResponse{ID: &id}, nil
}

func (f *fakeBrevo) requests() []brevo.CreateContactRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]brevo.CreateContactRequest(nil), f.reqs...)
}

func (f *fakeBrevo) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// --- Sheets fake ---

type fakeSheet struct {
	mu     sync.Mutex
	rows   [][]string
	getErr error
}

var rangeRe = regexp.MustCompile(`^[^!]+!A(\d*):([A-Z]+)(\d*)$`)

func (f *fakeSheet) GetValues(_ context.Context, rng string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	m := rangeRe.FindStringSubmatch(rng)
	if m == nil {
		return nil, errors.New("bad range " + rng)
	}
	if m[1] == "" {
		out := make([][]string, len(f.rows))
		for i, r := range f.rows {
			if len(r) > 0 {
				out[i] = []string{r[0]}
			} else {
				out[i] = []string{}
			}
		}
		return out, nil
	}
	n, _ := strconv.Atoi(m[1])
	if n > len(f.rows) {
		return nil, nil
	}
	return [][]string{append([]string(nil), f.rows[n-1]...)}, nil
}

func (f *fakeSheet) AppendValues(_ context.Context, _ string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeSheet) UpdateValues(_ context.Context, rng string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := rangeRe.FindStringSubmatch(rng)
	if m == nil || m[1] == "" {
		return errors.New("bad range " + rng)
	}
	n, _ := strconv.Atoi(m[1])
	for len(f.rows) < n {
		f.rows = append(f.rows, nil)
	}
	f.rows[n-1] = rows[0]
	return nil
}

func (f *fakeSheet) setGetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *fakeSheet) dataRows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows) - 1
}

// --- Conversions API fake ---

type fakeCAPI struct {
	mu     sync.Mutex
	events []metacapi.Event
}

func (f *fakeCAPI) SendEvents(_ context.Context, events []metacapi.Event) (*metacapi.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return &metacapi.Response{EventsReceived: len(events)}, nil
}

func (f *fakeCAPI) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.EventName
	}
	return out
}

func (f *fakeCAPI) byName(name string) (metacapi.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.EventName == name {
			return e, true
		}
	}
	return metacapi.Event{}, false
}

// --- harness ---

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	funnel *Funnel
	store  *store.MemoryStore
	brevo  *fakeBrevo
	sheet  *fakeSheet
	capi   *fakeCAPI
	log    *leadlog.Log
}

func newHarness(t *testing.T, breakers *resilience.Breakers) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemory(store.DefaultTTL),
		brevo: &fakeBrevo{nextID: 101},
		sheet: &fakeSheet{rows: [][]string{leadlog.Headers()}},
		capi:  &fakeCAPI{},
	}
	clock := func() time.Time { return testNow }
	h.log = leadlog.New(h.sheet, "", leadlog.WithClock(clock))
	h.funnel = New(Deps{
		Store:         h.store,
		CRM:           crm.New(h.brevo, 0),
		Log:           h.log,
		Reporter:      conversion.New(h.capi, "https://example.com/vsltraining"),
		Breakers:      breakers,
		PublicBaseURL: "https://example.com/",
		VideoID:       "vid123",
	}, WithClock(clock))
	t.Cleanup(h.funnel.Wait)
	return h
}

// row returns the sheet row for email keyed by header.
func (h *harness) row(t *testing.T, email string) map[string]string {
	t.Helper()
	row, _, err := h.log.Lookup(context.Background(), email)
	require.NoError(t, err)
	return row
}

func janeLead() model.LeadForm {
	return model.LeadForm{
		Name:              "Jane Doe",
		Email:             "JANE@Example.com",
		Phone:             "9876543210",
		EmploymentStatus:  model.EmployedYes,
		YearsOfExperience: model.ExperienceOver5,
	}
}

func application(readiness model.InvestmentReadiness, timeline model.Timeline) model.ApplicationForm {
	return model.ApplicationForm{
		LinkedInURL:         "https://www.linkedin.com/in/janedoe",
		CurrentRole:         "ui_designer",
		CurrentCompany:      "Acme",
		TargetRole:          "product_designer",
		TargetSalary:        "200000",
		BlockingIssue:       "portfolio",
		WhyImportant:        "I want to lead design at a product company.",
		InvestmentReadiness: readiness,
		Timeline:            timeline,
	}
}
