// Package metrics implements the Metrics Collector (spec.md §4.H): an
// event sink that ingests MetricEvents into per-session buckets,
// reconstructs pool state from the event stream, computes windowed rates,
// and exports the result as JSON, CSV, Prometheus, or a live subscriber
// stream.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/ostin-pil/lesca/internal/types"
)

const timingHistoryCap = 256

// timingStats is a bounded, append-only sample window used to compute
// count/total/min/max/avg without retaining unbounded history.
type timingStats struct {
	samples []int64 // circular buffer of durations in ms
	next    int
	count   int64 // lifetime count, can exceed len(samples)
	total   int64 // lifetime total, for avg
	min     int64
	max     int64
}

func newTimingStats() *timingStats {
	return &timingStats{samples: make([]int64, 0, timingHistoryCap)}
}

func (t *timingStats) record(ms int64) {
	t.count++
	t.total += ms
	if t.count == 1 || ms < t.min {
		t.min = ms
	}
	if ms > t.max {
		t.max = ms
	}
	if len(t.samples) < timingHistoryCap {
		t.samples = append(t.samples, ms)
	} else {
		t.samples[t.next] = ms
		t.next = (t.next + 1) % timingHistoryCap
	}
}

// TimingSnapshot is the JSON-serializable {count, totalMs, minMs, maxMs, avgMs} view.
type TimingSnapshot struct {
	Count  int64   `json:"count"`
	TotalMs int64  `json:"totalMs"`
	MinMs  int64   `json:"minMs"`
	MaxMs  int64   `json:"maxMs"`
	AvgMs  float64 `json:"avgMs"`
}

func (t *timingStats) snapshot() TimingSnapshot {
	if t.count == 0 {
		return TimingSnapshot{}
	}
	return TimingSnapshot{
		Count:  t.count,
		TotalMs: t.total,
		MinMs:  t.min,
		MaxMs:  t.max,
		AvgMs:  float64(t.total) / float64(t.count),
	}
}

// bucket is the per-session (or __global__) accumulator. All fields are
// guarded by the owning Collector's single mutex — spec.md §5 calls for
// one mutex over the session map and per-bucket arrays.
type bucket struct {
	sessionName string

	history []types.MetricEvent // ring buffer, capped at maxHistorySize
	histPos int

	acquireTiming *timingStats
	releaseTiming *timingStats
	createTiming  *timingStats

	acquisitions int64
	releases     int64
	failures     int64
	created      int64
	destroyed    int64
	circuitTrips int64

	poolSize int
	active   int
	idle     int

	breakerState types.BreakerState

	firstEventAt int64
	lastEventAt  int64

	recent []types.MetricEvent // for windowed rate calculation; trimmed lazily
}

func newBucket(name string) *bucket {
	return &bucket{
		sessionName:   name,
		acquireTiming: newTimingStats(),
		releaseTiming: newTimingStats(),
		createTiming:  newTimingStats(),
		breakerState:  types.BreakerClosed,
	}
}

func (b *bucket) appendHistory(ev types.MetricEvent, maxHistory int) {
	if maxHistory <= 0 {
		return
	}
	if len(b.history) < maxHistory {
		b.history = append(b.history, ev)
		return
	}
	b.history[b.histPos] = ev
	b.histPos = (b.histPos + 1) % maxHistory
}

// historyOrdered returns the ring buffer's contents in ingest order.
func (b *bucket) historyOrdered() []types.MetricEvent {
	if len(b.history) == 0 {
		return nil
	}
	n := len(b.history)
	out := make([]types.MetricEvent, 0, n)
	out = append(out, b.history[b.histPos:]...)
	out = append(out, b.history[:b.histPos]...)
	return out
}

func (b *bucket) applyEvent(ev types.MetricEvent) {
	if b.firstEventAt == 0 {
		b.firstEventAt = ev.TimestampMs
	}
	b.lastEventAt = ev.TimestampMs

	switch ev.Type {
	case types.EventPoolAcquire:
		b.acquisitions++
		b.active++
		if b.idle > 0 {
			b.idle--
		}
		if ev.PoolSize > 0 {
			b.poolSize = ev.PoolSize
		}
		b.acquireTiming.record(int64(ev.DurationMs))

	case types.EventPoolRelease:
		b.releases++
		if b.active > 0 {
			b.active--
		}
		b.idle++
		if ev.PoolSize > 0 {
			b.poolSize = ev.PoolSize
		}
		b.releaseTiming.record(int64(ev.DurationMs))

	case types.EventPoolFailure:
		b.failures++

	case types.EventPoolExhausted:
		if ev.MaxSize > 0 {
			b.poolSize = ev.MaxSize
		}

	case types.EventPoolBrowserCreated:
		b.created++
		if ev.PoolSize > 0 {
			b.poolSize = ev.PoolSize
		}
		b.createTiming.record(int64(ev.DurationMs))

	case types.EventPoolBrowserDestroyed:
		b.destroyed++
		if ev.PoolSize > 0 {
			b.poolSize = ev.PoolSize
		}

	case types.EventCircuitTrip:
		b.circuitTrips++
		b.breakerState = types.BreakerOpen

	case types.EventCircuitHalfOpen:
		b.breakerState = types.BreakerHalfOpen

	case types.EventCircuitReset:
		b.breakerState = types.BreakerClosed
	}
}

// SessionMetrics is the aggregate view returned by GetSessionMetrics.
type SessionMetrics struct {
	SessionName           string         `json:"sessionName"`
	PoolSize               int            `json:"poolSize"`
	Active                 int            `json:"active"`
	Idle                   int            `json:"idle"`
	Acquisitions           int64          `json:"acquisitions"`
	Releases               int64          `json:"releases"`
	Failures               int64          `json:"failures"`
	Created                int64          `json:"created"`
	Destroyed              int64          `json:"destroyed"`
	AcquisitionsPerMinute  float64        `json:"acquisitionsPerMinute"`
	FailureRate            float64        `json:"failureRate"`
	CircuitState           types.BreakerState `json:"circuitState"`
	CircuitTrips           int64          `json:"circuitTrips"`
	AcquireTiming          TimingSnapshot `json:"acquireTiming"`
	ReleaseTiming          TimingSnapshot `json:"releaseTiming"`
	BrowserCreateTiming    TimingSnapshot `json:"browserCreateTiming"`
	FirstEventAtMs         int64          `json:"firstEventAt"`
	LastEventAtMs          int64          `json:"lastEventAt"`
}

// Summary is the cross-session rollup returned by GetSummary.
type Summary struct {
	SessionCount    int     `json:"sessionCount"`
	TotalAcquisitions int64 `json:"totalAcquisitions"`
	TotalReleases   int64   `json:"totalReleases"`
	TotalFailures   int64   `json:"totalFailures"`
	TotalCreated    int64   `json:"totalCreated"`
	TotalDestroyed  int64   `json:"totalDestroyed"`
	OpenBreakers    int     `json:"openBreakers"`
	HalfOpenBreakers int    `json:"halfOpenBreakers"`
}

// Collector is the Metrics Collector. Safe for concurrent use; Record is
// the hot path called from the pool/breaker on every transition.
type Collector struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxHistory int
	window     time.Duration

	subMu       sync.Mutex
	subscribers map[int]chan types.MetricEvent
	nextSubID   int
}

// New constructs a Collector. maxHistory bounds each bucket's raw-event
// ring buffer; window is the duration rate calculations (acquisitions per
// minute, failure rate) look back over.
func New(maxHistory int, window time.Duration) *Collector {
	if maxHistory < 1 {
		maxHistory = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Collector{
		buckets:     make(map[string]*bucket),
		maxHistory:  maxHistory,
		window:      window,
		subscribers: make(map[int]chan types.MetricEvent),
	}
}

// Record ingests ev into its session's bucket (or the distinguished
// __global__ bucket when SessionName is empty), then fans it out to
// subscribers. Fan-out happens after the bucket mutex is released, so a
// slow or blocked subscriber channel can never stall ingestion or be
// observed holding the collector lock (spec.md §5 deadlock-avoidance rule).
func (c *Collector) Record(ev types.MetricEvent) {
	name := ev.SessionName
	if name == "" {
		name = types.GlobalSession
	}

	c.mu.Lock()
	b, ok := c.buckets[name]
	if !ok {
		b = newBucket(name)
		c.buckets[name] = b
	}
	b.applyEvent(ev)
	b.appendHistory(ev, c.maxHistory)
	b.recent = appendWindowed(b.recent, ev, c.window)
	c.mu.Unlock()

	c.publish(ev)
}

// appendWindowed appends ev and drops entries older than window relative
// to ev's own timestamp (events are expected in near-ingest order).
func appendWindowed(recent []types.MetricEvent, ev types.MetricEvent, window time.Duration) []types.MetricEvent {
	recent = append(recent, ev)
	cutoff := ev.TimestampMs - window.Milliseconds()
	start := 0
	for start < len(recent) && recent[start].TimestampMs < cutoff {
		start++
	}
	if start > 0 {
		recent = append([]types.MetricEvent(nil), recent[start:]...)
	}
	return recent
}

// GetSessionMetrics returns the aggregate view for name, or false if no
// events have been recorded for it.
func (c *Collector) GetSessionMetrics(name string) (SessionMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[name]
	if !ok {
		return SessionMetrics{}, false
	}
	return c.metricsFromBucketLocked(b), true
}

func (c *Collector) metricsFromBucketLocked(b *bucket) SessionMetrics {
	var acquisitionsInWindow, failuresInWindow, eventsInWindow int64
	for _, ev := range b.recent {
		eventsInWindow++
		if ev.Type == types.EventPoolAcquire {
			acquisitionsInWindow++
		}
		if ev.Type == types.EventPoolFailure {
			failuresInWindow++
		}
	}

	var acquisitionsPerMinute, failureRate float64
	if c.window > 0 {
		acquisitionsPerMinute = float64(acquisitionsInWindow) / c.window.Minutes()
	}
	if eventsInWindow > 0 {
		failureRate = float64(failuresInWindow) / float64(eventsInWindow)
	}

	return SessionMetrics{
		SessionName:           b.sessionName,
		PoolSize:              b.poolSize,
		Active:                b.active,
		Idle:                  b.idle,
		Acquisitions:          b.acquisitions,
		Releases:              b.releases,
		Failures:              b.failures,
		Created:               b.created,
		Destroyed:             b.destroyed,
		AcquisitionsPerMinute: acquisitionsPerMinute,
		FailureRate:           failureRate,
		CircuitState:          b.breakerState,
		CircuitTrips:          b.circuitTrips,
		AcquireTiming:         b.acquireTiming.snapshot(),
		ReleaseTiming:         b.releaseTiming.snapshot(),
		BrowserCreateTiming:   b.createTiming.snapshot(),
		FirstEventAtMs:        b.firstEventAt,
		LastEventAtMs:         b.lastEventAt,
	}
}

// AllSessionMetrics returns every non-global bucket's metrics, sorted by
// session name for deterministic export ordering.
func (c *Collector) AllSessionMetrics() []SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.buckets))
	for name := range c.buckets {
		if name == types.GlobalSession {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SessionMetrics, 0, len(names))
	for _, name := range names {
		out = append(out, c.metricsFromBucketLocked(c.buckets[name]))
	}
	return out
}

// GetSummary sums counters across every non-global bucket and counts open
// and half-open breakers.
func (c *Collector) GetSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Summary
	for name, b := range c.buckets {
		if name == types.GlobalSession {
			continue
		}
		s.SessionCount++
		s.TotalAcquisitions += b.acquisitions
		s.TotalReleases += b.releases
		s.TotalFailures += b.failures
		s.TotalCreated += b.created
		s.TotalDestroyed += b.destroyed
		switch b.breakerState {
		case types.BreakerOpen:
			s.OpenBreakers++
		case types.BreakerHalfOpen:
			s.HalfOpenBreakers++
		}
	}
	return s
}

// History returns the raw ring-buffer contents for a session, in ingest order.
func (c *Collector) History(name string) []types.MetricEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[name]
	if !ok {
		return nil
	}
	return b.historyOrdered()
}

// Subscribe registers a new subscriber to the event stream and returns a
// channel delivering every future Record call's event in ingest order,
// plus an unsubscribe function. The channel is buffered; a subscriber
// that falls behind has events dropped for it rather than blocking
// Record (spec.md §5: emission must never stall ingestion).
func (c *Collector) Subscribe(bufferSize int) (<-chan types.MetricEvent, func()) {
	if bufferSize < 1 {
		bufferSize = 64
	}
	ch := make(chan types.MetricEvent, bufferSize)

	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	c.subMu.Unlock()

	unsubscribe := func() {
		c.subMu.Lock()
		if existing, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(existing)
		}
		c.subMu.Unlock()
	}
	return ch, unsubscribe
}

func (c *Collector) publish(ev types.MetricEvent) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than block ingestion or
			// other subscribers. Per-subscriber order among delivered
			// events is still preserved since we never reorder ch's queue.
		}
	}
}
