package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError reports circuit-open status with a concrete retry delay.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	retryAfter := max(e.RetryAfter, 0)
	if e.Name == "" {
		return fmt.Sprintf("%v: retry in %s", ErrCircuitOpen, retryAfter)
	}
	return fmt.Sprintf("%v for %s: retry in %s", ErrCircuitOpen, e.Name, retryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

type CircuitBreakerConfig struct {
	Name              string
	FailureThreshold  int
	SuccessThreshold  int
	OpenTimeout       time.Duration
	HalfOpenMaxFlight int

	// IsFailure decides which errors count against the circuit. Errors it
	// rejects are returned to the caller but treated as a healthy round trip,
	// e.g. a 404 from a reachable API. Nil counts every error.
	IsFailure func(error) bool

	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to CircuitBreakerState)
}

// CircuitBreaker stops calling a dependency after repeated failures and
// probes it again once OpenTimeout has passed.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig

	state        CircuitBreakerState
	failureCount int
	successCount int
	openUntil    time.Time
	halfInFlight int
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMaxFlight <= 0 {
		cfg.HalfOpenMaxFlight = 1
	}

	return &CircuitBreaker{
		cfg:   cfg,
		state: CircuitClosed,
	}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	from := cb.state
	cb.refreshLocked(time.Now())
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return to
}

// Execute runs fn unless the circuit is open. fn's error is always returned
// unchanged; only errors accepted by IsFailure count against the circuit.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	switch {
	case errors.Is(err, context.Canceled):
		// Do not penalize user-driven cancellation.
		cb.record(outcomeCanceled)
	case err != nil && cb.countsAsFailure(err):
		cb.record(outcomeFailure)
	default:
		cb.record(outcomeSuccess)
	}
	return err
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeCanceled
)

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if cb.cfg.IsFailure == nil {
		return true
	}
	return cb.cfg.IsFailure(err)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	now := time.Now()
	from := cb.state
	cb.refreshLocked(now)
	to := cb.state

	var err error
	switch cb.state {
	case CircuitOpen:
		err = cb.openErrLocked(now)
	case CircuitHalfOpen:
		if cb.halfInFlight >= cb.cfg.HalfOpenMaxFlight {
			err = cb.openErrLocked(now)
		} else {
			cb.halfInFlight++
		}
	}
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

func (cb *CircuitBreaker) record(o outcome) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == CircuitHalfOpen && cb.halfInFlight > 0 {
		cb.halfInFlight--
	}

	switch o {
	case outcomeSuccess:
		if cb.state == CircuitHalfOpen {
			cb.successCount++
			if cb.successCount >= cb.cfg.SuccessThreshold {
				cb.setLocked(CircuitClosed)
			}
		} else {
			cb.failureCount = 0
		}
	case outcomeFailure:
		if cb.state == CircuitHalfOpen {
			cb.setLocked(CircuitOpen)
		} else {
			cb.failureCount++
			if cb.failureCount >= cb.cfg.FailureThreshold {
				cb.setLocked(CircuitOpen)
			}
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) refreshLocked(now time.Time) {
	if cb.state == CircuitOpen && !now.Before(cb.openUntil) {
		cb.setLocked(CircuitHalfOpen)
	}
}

func (cb *CircuitBreaker) setLocked(state CircuitBreakerState) {
	cb.state = state
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfInFlight = 0
	if state == CircuitOpen {
		cb.openUntil = time.Now().Add(cb.cfg.OpenTimeout)
	}
}

func (cb *CircuitBreaker) notify(from, to CircuitBreakerState) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

func (cb *CircuitBreaker) openErrLocked(now time.Time) error {
	return &CircuitOpenError{
		Name:       cb.cfg.Name,
		RetryAfter: max(cb.openUntil.Sub(now), 0),
	}
}
