package fedclient

import (
	"testing"
	"time"
)

func TestCircuitBreakerStaysClosedBelowThreshold(t *testing.T) {
	cb := newCircuitBreaker(3, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	if state, _ := cb.State(); state != CircuitClosed {
		t.Errorf("got %s", state)
	}
	if !cb.Allow() {
		t.Error("expected requests to still be allowed")
	}
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := newCircuitBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	if state, _ := cb.State(); state != CircuitOpen {
		t.Errorf("got %s", state)
	}
	if cb.Allow() {
		t.Error("expected the open circuit to reject requests")
	}
}

func TestCircuitBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := newCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	if state, _ := cb.State(); state != CircuitOpen {
		t.Fatalf("got %s", state)
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected the circuit to allow a probe after timeout")
	}
	if state, _ := cb.State(); state != CircuitHalfOpen {
		t.Errorf("got %s", state)
	}
}

func TestCircuitBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := newCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow() // transitions to half-open

	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordSuccess()
	if state, _ := cb.State(); state != CircuitClosed {
		t.Errorf("got %s", state)
	}
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := newCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()

	cb.RecordFailure()
	if state, _ := cb.State(); state != CircuitOpen {
		t.Errorf("got %s", state)
	}
}
