package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func newBreaker(cfg Config) *CircuitBreaker {
	return NewCircuitBreaker("test", cfg)
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errUpstream })
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	cb := newBreaker(Config{})
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerPassesErrorsThrough(t *testing.T) {
	cb := newBreaker(Config{FailureThreshold: 5})

	err := cb.Execute(context.Background(), func() error { return errUpstream })

	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newBreaker(Config{FailureThreshold: 3, OpenTimeout: time.Minute})

	failN(cb, 3)
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not run the operation")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newBreaker(Config{FailureThreshold: 3})

	failN(cb, 2)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	failN(cb, 2)

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	cb := newBreaker(Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Millisecond,
	})

	failN(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	cb := newBreaker(Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Millisecond,
	})

	failN(cb, 2)
	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return errUpstream })
	require.ErrorIs(t, err, errUpstream)

	err = cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerBoundsHalfOpenProbes(t *testing.T) {
	cb := newBreaker(Config{
		FailureThreshold: 1,
		OpenTimeout:      10 * time.Millisecond,
		MaxProbes:        1,
	})

	failN(cb, 1)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.admit())
	assert.ErrorIs(t, cb.admit(), ErrTooManyRequests)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string

	cb := newBreaker(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      10 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	failN(cb, 1)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))

	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}
