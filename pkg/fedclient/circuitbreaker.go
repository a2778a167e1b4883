package fedclient

import (
	"sync"
	"time"
)

// CircuitState mirrors the teacher's CircuitBreakerState enum
// (internal/queue/queue.go), renamed from per-message delivery state
// to per-destination federation delivery state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker suppresses outbound traffic to a destination after
// repeated failures and schedules probes once its timeout elapses
// (spec.md §4.5). Unlike the teacher's CircuitBreaker, state is
// in-memory only -- there is no durable queue backing federation
// requests, so nothing survives a process restart, and nothing needs
// to.
type CircuitBreaker struct {
	mu                sync.Mutex
	state             CircuitState
	consecutiveErrors int
	halfOpenSuccesses int
	threshold         int
	timeout           time.Duration
	openUntil         time.Time
}

func newCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, timeout: timeout}
}

// Allow reports whether a request may proceed, transitioning Open to
// HalfOpen once the timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Now().Before(cb.openUntil) {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.halfOpenSuccesses = 0
	}
	return true
}

// RecordSuccess clears the failure count and, after enough consecutive
// successes in HalfOpen, closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveErrors = 0
	if cb.state == CircuitHalfOpen {
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= 3 {
			cb.state = CircuitClosed
		}
	}
}

// RecordFailure increments the consecutive-failure count, opening the
// circuit once threshold is reached. A failure observed while
// HalfOpen reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveErrors++
	if cb.state == CircuitHalfOpen || cb.consecutiveErrors >= cb.threshold {
		cb.state = CircuitOpen
		cb.openUntil = time.Now().Add(cb.timeout)
	}
}

// State returns the current state and, for reporting, the time the
// circuit reopens for probing (zero if not Open).
func (cb *CircuitBreaker) State() (CircuitState, time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.openUntil
}
