package robustness

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if !cb.Allow() {
			t.Fatalf("breaker open after %d failures, threshold is 3", i+1)
		}
	}
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after 3 failures, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker should reject requests")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("elapsed reset timeout should admit a probe")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after probe success, want closed", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(5, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after probe failure, want open", cb.State())
	}
}

func TestDoPropagatesAndTrips(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	boom := errors.New("boom")

	if err := cb.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Do returned %v, want boom", err)
	}
	if err := cb.Do(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Do returned %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSetIsolatesNames(t *testing.T) {
	set := NewBreakerSet(1, time.Minute)
	set.For("flaky").RecordFailure()

	if set.For("flaky").Allow() {
		t.Error("flaky breaker should be open")
	}
	if !set.For("steady").Allow() {
		t.Error("steady breaker should be unaffected")
	}
	if set.For("flaky") != set.For("flaky") {
		t.Error("For should return the same breaker per name")
	}
}
