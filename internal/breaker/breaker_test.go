package breaker

import (
	"testing"
	"time"

	"github.com/ostin-pil/lesca/internal/types"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	var events []types.MetricEvent
	b := New(3, 100*time.Millisecond, 1, func(e types.MetricEvent) { events = append(events, e) })

	for i := 0; i < 3; i++ {
		allowed, probe := b.Allow()
		if !allowed {
			t.Fatalf("call %d: expected allowed while closed", i)
		}
		b.Failure(probe)
	}

	if b.State() != types.BreakerOpen {
		t.Fatalf("expected state open after 3 failures, got %v", b.State())
	}

	allowed, _ := b.Allow()
	if allowed {
		t.Error("expected fast-fail immediately after trip (within cooldown)")
	}

	var sawTrip bool
	for _, e := range events {
		if e.Type == types.EventCircuitTrip {
			sawTrip = true
			if e.Failures != 3 || e.Threshold != 3 {
				t.Errorf("circuit:trip payload = {failures:%d threshold:%d}, want {3,3}", e.Failures, e.Threshold)
			}
		}
	}
	if !sawTrip {
		t.Error("expected a circuit:trip event")
	}
}

func TestBreakerHalfOpenProbeThenRecovery(t *testing.T) {
	b := New(3, 50*time.Millisecond, 1, nil)
	for i := 0; i < 3; i++ {
		_, probe := b.Allow()
		b.Failure(probe)
	}
	if b.State() != types.BreakerOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(70 * time.Millisecond)

	allowed, isProbe := b.Allow()
	if !allowed || !isProbe {
		t.Fatalf("expected the next call post-cooldown to be an allowed probe, got allowed=%v probe=%v", allowed, isProbe)
	}

	if b.State() != types.BreakerHalfOpen {
		t.Fatalf("expected half-open state, got %v", b.State())
	}

	// Additional concurrent callers must fast-fail while the probe is in flight.
	allowed2, _ := b.Allow()
	if allowed2 {
		t.Error("expected second concurrent caller to fast-fail during half-open probe")
	}

	b.Success(isProbe)
	if b.State() != types.BreakerClosed {
		t.Fatalf("expected closed after successful probe, got %v", b.State())
	}
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b := New(2, 30*time.Millisecond, 1, nil)
	for i := 0; i < 2; i++ {
		_, probe := b.Allow()
		b.Failure(probe)
	}
	time.Sleep(50 * time.Millisecond)

	allowed, isProbe := b.Allow()
	if !allowed || !isProbe {
		t.Fatalf("expected probe admission, got allowed=%v probe=%v", allowed, isProbe)
	}
	b.Failure(isProbe)

	if b.State() != types.BreakerOpen {
		t.Fatalf("expected re-open after failed probe, got %v", b.State())
	}
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New(3, time.Second, 1, nil)
	_, p := b.Allow()
	b.Failure(p)
	_, p = b.Allow()
	b.Success(p)

	stats := b.Stats()
	if stats.ConsecutiveFailures != 0 {
		t.Errorf("expected consecutive failures reset to 0, got %d", stats.ConsecutiveFailures)
	}
	if b.State() != types.BreakerClosed {
		t.Errorf("expected closed state, got %v", b.State())
	}
}
