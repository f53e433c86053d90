// Package resilience guards best-effort integration calls with circuit
// breakers. A vendor that keeps failing is skipped for a cool-down period
// instead of adding its timeout to every funnel transition. Nothing here
// retries.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/model"
)

// Integration names used as breaker keys.
const (
	IntegrationCRM        = "crm"
	IntegrationSheet      = "sheet"
	IntegrationConversion = "conversion"
)

// State is the position of a breaker.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the reset timeout elapses.
	Open
	// HalfOpen lets a single probe through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the integration when its breaker is open.
var ErrOpen = eris.New("integration circuit is open")

// Config controls breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// FromConfig converts config values, keeping defaults for non-positive ones.
func FromConfig(failureThreshold, resetTimeoutSecs int) Config {
	cfg := DefaultConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// Breaker guards one integration.
type Breaker struct {
	name string
	cfg  Config
	log  *zap.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

func newBreaker(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{
		name: name,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "resilience"), zap.String("integration", name)),
		now:  time.Now,
	}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return eris.Wrapf(ErrOpen, "resilience: %s", b.name)
		}
		b.transition(HalfOpen)
		b.probing = true
		return nil
	case HalfOpen:
		if b.probing {
			return eris.Wrapf(ErrOpen, "resilience: %s probe in flight", b.name)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		if b.state != Closed {
			b.transition(Closed)
		}
		return
	}
	// Caller errors say nothing about the vendor's health.
	if !trips(err) {
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		if b.state != Open {
			b.transition(Open)
		}
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.log.Warn("resilience: circuit state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("consecutive_failures", b.failures),
	)
}

// trips reports whether err says the vendor is unhealthy. Bad input, missing
// rows, missing configuration and caller cancellation do not count.
func trips(err error) bool {
	switch {
	case err == nil:
		return false
	case model.IsValidation(err), model.IsNotFound(err), model.IsConfiguration(err):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// Breakers holds one breaker per integration.
type Breakers struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg Config) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for the named integration, creating it if needed.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = newBreaker(name, r.cfg)
	r.breakers[name] = b
	return b
}

// States returns a snapshot of every breaker's state.
func (r *Breakers) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State().String()
	}
	return out
}

// IsOpen reports whether err is a rejection by an open breaker.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}
