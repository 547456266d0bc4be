// Package probe exercises the concrete end-to-end scenarios spec.md §8
// names as "seeds for the test suite" — each test here drives two or
// more components together the way a real caller would, rather than
// unit-testing one function in isolation.
package probe

import (
	"testing"
	"time"

	"github.com/ostin-pil/lesca/internal/breaker"
	"github.com/ostin-pil/lesca/internal/types"
)

// TestCircuitTripThenProbe is spec.md §8 scenario 2: three failing
// launches trip the breaker; a fourth call within the cooldown window
// fails fast; after the cooldown elapses the next call is admitted as a
// half-open probe, and its success closes the circuit.
func TestCircuitTripThenProbe(t *testing.T) {
	var events []types.MetricEvent
	b := breaker.New(3, 100*time.Millisecond, 1, func(ev types.MetricEvent) {
		events = append(events, ev)
	})

	for i := 0; i < 3; i++ {
		allowed, isProbe := b.Allow()
		if !allowed {
			t.Fatalf("call %d: expected admission before threshold trips, got fast-fail", i)
		}
		b.Failure(isProbe)
	}
	if got := b.State(); got != types.BreakerOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}

	allowed, _ := b.Allow()
	if allowed {
		t.Fatal("expected a fast-fail within the cooldown window")
	}

	time.Sleep(150 * time.Millisecond)

	allowed, isProbe := b.Allow()
	if !allowed || !isProbe {
		t.Fatalf("expected the next call after cooldown to be admitted as a probe, got allowed=%v isProbe=%v", allowed, isProbe)
	}
	b.Success(isProbe)
	if got := b.State(); got != types.BreakerClosed {
		t.Fatalf("state after probe success = %v, want closed", got)
	}

	var trips, halfOpens, resets int
	for _, ev := range events {
		switch ev.Type {
		case types.EventCircuitTrip:
			trips++
			if ev.Failures != 3 || ev.Threshold != 3 {
				t.Errorf("circuit:trip payload = %+v, want failures=3 threshold=3", ev)
			}
		case types.EventCircuitHalfOpen:
			halfOpens++
			if ev.TimeSinceTripMs < 100 {
				t.Errorf("circuit:half-open timeSinceTrip = %d, want >= 100", ev.TimeSinceTripMs)
			}
		case types.EventCircuitReset:
			resets++
		}
	}
	if trips != 1 {
		t.Errorf("circuit:trip emitted %d times, want 1", trips)
	}
	if halfOpens != 1 {
		t.Errorf("circuit:half-open emitted %d times, want 1", halfOpens)
	}
	if resets != 1 {
		t.Errorf("circuit:reset emitted %d times, want 1", resets)
	}
}
