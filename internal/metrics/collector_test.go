package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/ostin-pil/lesca/internal/types"
)

func ev(typ types.EventType, session string, tsMs int64) types.MetricEvent {
	return types.MetricEvent{Type: typ, SessionName: session, TimestampMs: tsMs}
}

func TestRecordDerivesActiveIdleFromEvents(t *testing.T) {
	c := New(16, time.Minute)

	c.Record(ev(types.EventPoolBrowserCreated, "s1", 1))
	c.Record(types.MetricEvent{Type: types.EventPoolAcquire, SessionName: "s1", TimestampMs: 2, DurationMs: 50, PoolSize: 3})
	c.Record(types.MetricEvent{Type: types.EventPoolAcquire, SessionName: "s1", TimestampMs: 3, DurationMs: 30, PoolSize: 3})

	m, ok := c.GetSessionMetrics("s1")
	if !ok {
		t.Fatal("expected session metrics to exist")
	}
	if m.Active != 2 {
		t.Errorf("expected Active=2, got %d", m.Active)
	}
	if m.Acquisitions != 2 {
		t.Errorf("expected Acquisitions=2, got %d", m.Acquisitions)
	}
	if m.PoolSize != 3 {
		t.Errorf("expected PoolSize=3, got %d", m.PoolSize)
	}

	c.Record(types.MetricEvent{Type: types.EventPoolRelease, SessionName: "s1", TimestampMs: 4, DurationMs: 5, PoolSize: 3})
	m, _ = c.GetSessionMetrics("s1")
	if m.Active != 1 {
		t.Errorf("expected Active=1 after release, got %d", m.Active)
	}
	if m.Idle != 1 {
		t.Errorf("expected Idle=1 after release, got %d", m.Idle)
	}
}

func TestActiveIdleNeverGoNegative(t *testing.T) {
	c := New(16, time.Minute)
	c.Record(ev(types.EventPoolRelease, "s1", 1))
	m, _ := c.GetSessionMetrics("s1")
	if m.Active != 0 || m.Idle != 1 {
		t.Errorf("expected floor-at-zero active, got active=%d idle=%d", m.Active, m.Idle)
	}
}

func TestCircuitEventsTransitionBreakerState(t *testing.T) {
	c := New(16, time.Minute)
	c.Record(types.MetricEvent{Type: types.EventCircuitTrip, SessionName: "s1", TimestampMs: 1, Failures: 5, Threshold: 5})

	m, _ := c.GetSessionMetrics("s1")
	if m.CircuitState != types.BreakerOpen {
		t.Errorf("expected BreakerOpen, got %v", m.CircuitState)
	}
	if m.CircuitTrips != 1 {
		t.Errorf("expected CircuitTrips=1, got %d", m.CircuitTrips)
	}

	c.Record(ev(types.EventCircuitHalfOpen, "s1", 2))
	m, _ = c.GetSessionMetrics("s1")
	if m.CircuitState != types.BreakerHalfOpen {
		t.Errorf("expected BreakerHalfOpen, got %v", m.CircuitState)
	}

	c.Record(ev(types.EventCircuitReset, "s1", 3))
	m, _ = c.GetSessionMetrics("s1")
	if m.CircuitState != types.BreakerClosed {
		t.Errorf("expected BreakerClosed, got %v", m.CircuitState)
	}
}

func TestTimingStatsCountMinMaxAvg(t *testing.T) {
	c := New(16, time.Minute)
	c.Record(types.MetricEvent{Type: types.EventPoolAcquire, SessionName: "s1", TimestampMs: 1, DurationMs: 10})
	c.Record(types.MetricEvent{Type: types.EventPoolAcquire, SessionName: "s1", TimestampMs: 2, DurationMs: 30})
	c.Record(types.MetricEvent{Type: types.EventPoolAcquire, SessionName: "s1", TimestampMs: 3, DurationMs: 20})

	m, _ := c.GetSessionMetrics("s1")
	ts := m.AcquireTiming
	if ts.Count != 3 {
		t.Errorf("expected Count=3, got %d", ts.Count)
	}
	if ts.MinMs != 10 {
		t.Errorf("expected MinMs=10, got %d", ts.MinMs)
	}
	if ts.MaxMs != 30 {
		t.Errorf("expected MaxMs=30, got %d", ts.MaxMs)
	}
	if ts.AvgMs != 20 {
		t.Errorf("expected AvgMs=20, got %f", ts.AvgMs)
	}
}

func TestTimingStatsEmptySnapshotIsZeroValue(t *testing.T) {
	c := New(16, time.Minute)
	c.Record(ev(types.EventPoolFailure, "s1", 1))
	m, _ := c.GetSessionMetrics("s1")
	if m.AcquireTiming.Count != 0 || m.AcquireTiming.AvgMs != 0 {
		t.Errorf("expected zero-value timing snapshot when no samples recorded, got %+v", m.AcquireTiming)
	}
}

func TestHistoryRingBufferCapsAndOrdersByIngest(t *testing.T) {
	c := New(3, time.Minute)
	for i := int64(1); i <= 5; i++ {
		c.Record(ev(types.EventPoolAcquire, "s1", i))
	}
	hist := c.History("s1")
	if len(hist) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(hist))
	}
	want := []int64{3, 4, 5}
	for i, h := range hist {
		if h.TimestampMs != want[i] {
			t.Errorf("history[%d]: expected ts=%d, got %d", i, want[i], h.TimestampMs)
		}
	}
}

func TestWindowedRateExcludesEventsOutsideWindow(t *testing.T) {
	c := New(16, time.Minute)
	c.Record(types.MetricEvent{Type: types.EventPoolAcquire, SessionName: "s1", TimestampMs: 0})
	c.Record(types.MetricEvent{Type: types.EventPoolAcquire, SessionName: "s1", TimestampMs: 120_000})

	m, _ := c.GetSessionMetrics("s1")
	if m.AcquisitionsPerMinute != 1 {
		t.Errorf("expected only the most recent acquisition within the 1-minute window, got rate=%f", m.AcquisitionsPerMinute)
	}
}

func TestAllSessionMetricsSortedAndExcludesGlobal(t *testing.T) {
	c := New(16, time.Minute)
	c.Record(ev(types.EventPoolAcquire, "zeta", 1))
	c.Record(ev(types.EventPoolAcquire, "alpha", 2))
	c.Record(ev(types.EventPoolAcquire, "", 3)) // global bucket

	all := c.AllSessionMetrics()
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions excluding global, got %d", len(all))
	}
	if all[0].SessionName != "alpha" || all[1].SessionName != "zeta" {
		t.Errorf("expected sorted [alpha, zeta], got [%s, %s]", all[0].SessionName, all[1].SessionName)
	}
}

func TestGetSummaryCountsBreakersAndTotals(t *testing.T) {
	c := New(16, time.Minute)
	c.Record(ev(types.EventPoolAcquire, "s1", 1))
	c.Record(ev(types.EventPoolAcquire, "s2", 1))
	c.Record(ev(types.EventCircuitTrip, "s1", 2))
	c.Record(ev(types.EventCircuitHalfOpen, "s2", 2))

	sum := c.GetSummary()
	if sum.SessionCount != 2 {
		t.Errorf("expected SessionCount=2, got %d", sum.SessionCount)
	}
	if sum.TotalAcquisitions != 2 {
		t.Errorf("expected TotalAcquisitions=2, got %d", sum.TotalAcquisitions)
	}
	if sum.OpenBreakers != 1 || sum.HalfOpenBreakers != 1 {
		t.Errorf("expected 1 open + 1 half-open, got open=%d halfOpen=%d", sum.OpenBreakers, sum.HalfOpenBreakers)
	}
}

func TestSubscribeDeliversFutureEventsOnly(t *testing.T) {
	c := New(16, time.Minute)
	c.Record(ev(types.EventPoolAcquire, "s1", 1))

	ch, unsubscribe := c.Subscribe(4)
	defer unsubscribe()

	c.Record(ev(types.EventPoolAcquire, "s1", 2))

	select {
	case got := <-ch:
		if got.TimestampMs != 2 {
			t.Errorf("expected the post-subscribe event (ts=2), got ts=%d", got.TimestampMs)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed event")
	}
}

func TestSlowSubscriberDoesNotBlockRecordOrOtherSubscribers(t *testing.T) {
	c := New(16, time.Minute)

	slow, unsubSlow := c.Subscribe(1)
	defer unsubSlow()
	fast, unsubFast := c.Subscribe(8)
	defer unsubFast()

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		for i := int64(0); i < 5; i++ {
			c.Record(ev(types.EventPoolAcquire, "s1", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a slow subscriber without a consumer")
	}
	wg.Wait()

	// drain slow's single buffered slot so the channel is left in a sane state
	<-slow

	count := 0
	for {
		select {
		case <-fast:
			count++
		default:
			goto done2
		}
	}
done2:
	if count == 0 {
		t.Error("expected the fast subscriber to receive at least one event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	c := New(16, time.Minute)
	ch, unsubscribe := c.Subscribe(1)
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}
