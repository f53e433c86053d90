// Package conversion reports funnel milestones to the ad platform. Email and
// phone are hashed here; the raw values never reach the outgoing payload.
package conversion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/model"
	"github.com/sells-group/leadfunnel/internal/resilience"
	"github.com/sells-group/leadfunnel/pkg/metacapi"
)

// Event names understood by the ad platform.
const (
	EventPageView            = "PageView"
	EventLead                = "Lead"
	EventViewContent         = "ViewContent"
	EventInitiateCheckout    = "InitiateCheckout"
	EventSubmitApplication   = "SubmitApplication"
	EventApplicationRejected = "ApplicationRejected"
	EventSchedule            = "Schedule"
)

// asyncTimeout bounds a fire-and-forget report after the request is gone.
const asyncTimeout = 10 * time.Second

// Signals are browser-side identifiers passed through unhashed.
type Signals struct {
	FBP            string
	FBC            string
	ClientIP       string
	UserAgent      string
	EventSourceURL string
}

// Event is one milestone to report.
type Event struct {
	Name       string
	Email      string
	Phone      string
	CustomData map[string]any
	Signals    Signals
}

// Reporter sends events. A nil client means reporting is not configured;
// Report then fails with ErrConfiguration and ReportAsync does nothing.
type Reporter struct {
	client    metacapi.Client
	sourceURL string
	now       func() time.Time
	newID     func() string
	breaker   *resilience.Breaker
	log       *zap.Logger
	wg        sync.WaitGroup
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithBreaker guards background reports with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(r *Reporter) {
		r.breaker = b
	}
}

// WithClock replaces time.Now and the event ID generator (for testing).
func WithClock(now func() time.Time, newID func() string) Option {
	return func(r *Reporter) {
		r.now = now
		r.newID = newID
	}
}

// New creates a Reporter. defaultSourceURL is used when an event carries no
// source URL.
func New(client metacapi.Client, defaultSourceURL string, opts ...Option) *Reporter {
	r := &Reporter{
		client:    client,
		sourceURL: defaultSourceURL,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       zap.L().With(zap.String("component", "conversion")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hash returns the hex SHA-256 of the lowercased, trimmed value.
func Hash(v string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(v))))
	return hex.EncodeToString(sum[:])
}

// ClientIP returns the first X-Forwarded-For hop, else the host of
// remoteAddr.
func ClientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// Build turns ev into the vendor event.
func (r *Reporter) Build(ev Event) metacapi.Event {
	out := metacapi.Event{
		EventName:      ev.Name,
		EventTime:      r.now().Unix(),
		EventID:        r.newID(),
		EventSourceURL: ev.Signals.EventSourceURL,
		ActionSource:   metacapi.ActionSourceWebsite,
		UserData: metacapi.UserData{
			ClientIPAddress: ev.Signals.ClientIP,
			ClientUserAgent: ev.Signals.UserAgent,
			FBP:             ev.Signals.FBP,
			FBC:             ev.Signals.FBC,
		},
		CustomData: ev.CustomData,
	}
	if out.EventSourceURL == "" {
		out.EventSourceURL = r.sourceURL
	}
	if strings.TrimSpace(ev.Email) != "" {
		out.UserData.Email = []string{Hash(ev.Email)}
	}
	if strings.TrimSpace(ev.Phone) != "" {
		out.UserData.Phone = []string{Hash(ev.Phone)}
	}
	return out
}

// Report sends ev and returns the vendor's acknowledgement. The vendor is
// always called; the breaker only guards ReportAsync.
func (r *Reporter) Report(ctx context.Context, ev Event) (*metacapi.Response, error) {
	return r.report(ctx, ev, nil)
}

func (r *Reporter) report(ctx context.Context, ev Event, b *resilience.Breaker) (*metacapi.Response, error) {
	if strings.TrimSpace(ev.Name) == "" {
		return nil, model.NewValidationError("event_name", "Event name is required")
	}
	if r.client == nil {
		return nil, eris.Wrap(model.ErrConfiguration, "conversion: meta pixel not configured")
	}
	send := func(ctx context.Context) (*metacapi.Response, error) {
		return r.client.SendEvents(ctx, []metacapi.Event{r.Build(ev)})
	}
	var resp *metacapi.Response
	var err error
	if b != nil {
		resp, err = resilience.Call(ctx, b, send)
	} else {
		resp, err = send(ctx)
	}
	if resilience.IsOpen(err) {
		return nil, err
	}
	if err != nil {
		var apiErr *metacapi.APIError
		msg := ""
		if errors.As(err, &apiErr) {
			msg = apiErr.Message
		}
		return nil, eris.Wrapf(model.NewSyncError("conversion", msg, err), "conversion: report %s", ev.Name)
	}
	return resp, nil
}

// ReportAsync sends ev in the background behind the breaker. Failures are
// logged and dropped. The report outlives ctx's cancellation but keeps its
// values.
func (r *Reporter) ReportAsync(ctx context.Context, ev Event) {
	if r.client == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
		defer cancel()
		if _, err := r.report(ctx, ev, r.breaker); err != nil {
			r.log.Warn("conversion: best-effort report failed",
				zap.String("event", ev.Name),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every ReportAsync call has finished.
func (r *Reporter) Wait() {
	r.wg.Wait()
}
