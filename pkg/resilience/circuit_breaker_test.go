package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

type transition struct {
	name     string
	from, to CircuitBreakerState
}

type transitionLog struct {
	mu  sync.Mutex
	got []transition
}

func (l *transitionLog) record(name string, from, to CircuitBreakerState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, transition{name, from, to})
}

func (l *transitionLog) all() []transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transition(nil), l.got...)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		OpenTimeout:      time.Second,
	})

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	_ = cb.Execute(context.Background(), fail)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), fail)
	time.Sleep(70 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		OpenTimeout:      50 * time.Millisecond,
	})

	for range 3 {
		_ = cb.Execute(context.Background(), fail)
	}
	time.Sleep(70 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// A single probe failure is enough once half open.
	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_OpenErrorCarriesRetryAfter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "github",
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
	})

	_ = cb.Execute(context.Background(), fail)
	err := cb.Execute(context.Background(), succeed)

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "github", openErr.Name)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
	assert.Contains(t, err.Error(), "for github: retry in")
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	errMissing := errors.New("missing")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errMissing)
		},
	})

	for range 3 {
		err := cb.Execute(context.Background(), func(context.Context) error { return errMissing })
		assert.ErrorIs(t, err, errMissing)
	}
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_CancellationIsNotCounted(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ReportsTransitions(t *testing.T) {
	var log transitionLog
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "github",
		FailureThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
		OnStateChange:    log.record,
	})

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), succeed) // rejected while open
	time.Sleep(70 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), succeed))

	assert.Equal(t, []transition{
		{"github", CircuitClosed, CircuitOpen},
		{"github", CircuitOpen, CircuitHalfOpen},
		{"github", CircuitHalfOpen, CircuitClosed},
	}, log.all())
}

func TestCircuitBreaker_HookMayReadState(t *testing.T) {
	var cb *CircuitBreaker
	var seen CircuitBreakerState
	cb = NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		OnStateChange: func(string, CircuitBreakerState, CircuitBreakerState) {
			seen = cb.State()
		},
	})

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, CircuitOpen, seen)
}
