package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeClock lets tests move past the reset timeout without sleeping
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("test", maxFailures, reset)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", cb.GetState())
	}
	if !cb.allowRequest() {
		t.Error("Expected to allow request in Closed state")
	}
	if cb.Name() != "test" {
		t.Errorf("Expected name 'test', got %q", cb.Name())
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}
	if cb.allowRequest() {
		t.Error("Expected to not allow request in Open state")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)

	if cb.GetState() != StateClosed {
		t.Error("Expected non-consecutive failures to keep the circuit Closed")
	}
}

func TestCircuitBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	cb, clock := newTestBreaker(1, 100*time.Millisecond)

	cb.RecordResult(false)
	clock.advance(150 * time.Millisecond)

	if !cb.allowRequest() {
		t.Fatal("Expected to allow a trial request after the reset timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state to be HalfOpen, got %s", cb.GetState())
	}
	if cb.allowRequest() {
		t.Error("Expected a second concurrent trial to be rejected")
	}
}

func TestCircuitBreaker_CloseAfterSuccess(t *testing.T) {
	cb, clock := newTestBreaker(1, 100*time.Millisecond)

	cb.RecordResult(false)
	clock.advance(150 * time.Millisecond)

	err := cb.Call(func() error { return nil })
	if err != nil {
		t.Fatalf("Expected trial call to succeed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be Closed after a successful trial, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(1, 100*time.Millisecond)

	cb.RecordResult(false)
	clock.advance(150 * time.Millisecond)

	_ = cb.Call(func() error { return errors.New("still down") })

	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after failure in HalfOpen")
	}
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Second)
	cb.RecordResult(false)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while the circuit is open")
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requestCount, failureCount, failureRate := cb.GetStats()

	if state != StateClosed {
		t.Errorf("Expected state Closed, got %s", state)
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if failureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failureCount)
	}
	if failureRate < 33.0 || failureRate > 34.0 {
		t.Errorf("Expected failure rate around 33.33%%, got %.2f%%", failureRate)
	}
}

func TestCircuitBreaker_Check(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Second)

	if ok, err := cb.Check(context.Background()); !ok || err != nil {
		t.Fatalf("Expected a closed breaker to be ready, got %v %v", ok, err)
	}

	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(false)

	ok, err := cb.Check(context.Background())
	if ok || err == nil {
		t.Fatal("Expected an open breaker to fail the check")
	}
	if !strings.Contains(err.Error(), "is open") || !strings.Contains(err.Error(), "2 of 3 requests failed") {
		t.Errorf("Unexpected check error %q", err)
	}

	// Half-open lets a trial through, so the dependency counts as ready
	clock.advance(2 * time.Second)
	if !cb.allowRequest() {
		t.Fatal("Expected a trial request after the reset timeout")
	}
	if ok, _ := cb.Check(context.Background()); !ok {
		t.Error("Expected a half-open breaker to pass the check")
	}
}
