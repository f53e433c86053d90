package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadfunnel/internal/model"
)

var errVendor = errors.New("vendor down")

func fail(context.Context) error    { return errVendor }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b := newBreaker("crm", Config{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for range 3 {
		assert.ErrorIs(t, b.Do(ctx, fail), errVendor)
	}
	assert.Equal(t, Open, b.State())

	err := b.Do(ctx, func(context.Context) error {
		t.Error("should not be called when open")
		return nil
	})
	assert.True(t, IsOpen(err))
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b := newBreaker("sheet", Config{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	require.NoError(t, b.Do(ctx, succeed))
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBreaker("conversion", Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	assert.Equal(t, Open, b.State())

	now = now.Add(31 * time.Second)
	assert.Equal(t, HalfOpen, b.State())

	// A failed probe reopens.
	assert.ErrorIs(t, b.Do(ctx, fail), errVendor)
	assert.Equal(t, Open, b.State())

	now = now.Add(31 * time.Second)
	require.NoError(t, b.Do(ctx, succeed))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBreaker("crm", Config{FailureThreshold: 1, ResetTimeout: time.Second})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	now = now.Add(2 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.True(t, IsOpen(b.Do(ctx, succeed)))
	close(release)
	wg.Wait()
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CallerErrorsDoNotTrip(t *testing.T) {
	t.Parallel()
	b := newBreaker("sheet", Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	for _, err := range []error{
		model.NewValidationError("email", "Email is required"),
		eris.Wrap(model.ErrNotFound, "leadlog: update"),
		eris.Wrap(model.ErrConfiguration, "leadlog: not configured"),
		context.Canceled,
	} {
		_ = b.Do(ctx, func(context.Context) error { return err })
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CallerErrorsLeaveStateAlone(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBreaker("sheet", Config{FailureThreshold: 2, ResetTimeout: 30 * time.Second})
	b.now = func() time.Time { return now }
	ctx := context.Background()
	notFound := func(context.Context) error { return eris.Wrap(model.ErrNotFound, "leadlog: update") }

	// A caller error between vendor failures does not reset the count.
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, notFound)
	_ = b.Do(ctx, fail)
	require.Equal(t, Open, b.State())

	// A caller error from the half-open probe does not close the breaker.
	now = now.Add(31 * time.Second)
	assert.True(t, model.IsNotFound(b.Do(ctx, notFound)))
	assert.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Do(ctx, succeed))
	assert.Equal(t, Closed, b.State())
}

func TestCall_ReturnsValue(t *testing.T) {
	t.Parallel()
	b := newBreaker("crm", DefaultConfig())

	v, err := Call(context.Background(), b, func(context.Context) (string, error) { return "42", nil })
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestBreakers_GetAndStates(t *testing.T) {
	t.Parallel()
	r := NewBreakers(FromConfig(1, 0))

	assert.Same(t, r.Get(IntegrationCRM), r.Get(IntegrationCRM))
	_ = r.Get(IntegrationSheet).Do(context.Background(), fail)

	assert.Equal(t, map[string]string{
		IntegrationCRM:   "closed",
		IntegrationSheet: "open",
	}, r.States())
}

func TestFromConfig(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultConfig(), FromConfig(0, 0))
	assert.Equal(t, Config{FailureThreshold: 2, ResetTimeout: 10 * time.Second}, FromConfig(2, 10))
}
