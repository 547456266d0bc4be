// Package breaker implements the circuit breaker wrapping browser launch
// (spec.md §4.E): closed/open/half-open states with a single-probe
// admission gate during recovery.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ostin-pil/lesca/internal/types"
)

// Breaker is a circuit breaker guarding "launch a new browser". It is
// safe for concurrent use; state and counters are guarded by mu, which
// every call takes, including the closed-state pass-through. Only the
// half-open probe slot count is an atomic.
type Breaker struct {
	threshold      int
	cooldown       time.Duration
	halfOpenProbes int

	mu                  sync.Mutex
	state               types.BreakerState
	consecutiveFailures int
	failuresTotal       int64
	successesTotal      int64
	lastFailureAt       time.Time
	lastSuccessAt       time.Time
	trippedAt           time.Time

	probesInFlight atomic.Int32

	onEvent func(types.MetricEvent)
}

// New constructs a closed Breaker. onEvent, if non-nil, receives a
// MetricEvent for every circuit:trip/circuit:reset/circuit:half-open
// transition.
func New(threshold int, cooldown time.Duration, halfOpenProbes int, onEvent func(types.MetricEvent)) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if halfOpenProbes < 1 {
		halfOpenProbes = 1
	}
	return &Breaker{
		threshold:      threshold,
		cooldown:       cooldown,
		halfOpenProbes: halfOpenProbes,
		state:          types.BreakerClosed,
		onEvent:        onEvent,
	}
}

// Allow reports whether a call may proceed, and if so whether the caller
// has been granted the half-open probe slot (callers must report that
// outcome back via Success/Failure; only one caller at a time can hold the
// probe slot while the breaker is half-open).
func (b *Breaker) Allow() (allowed bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case types.BreakerClosed:
		return true, false

	case types.BreakerOpen:
		if time.Since(b.trippedAt) < b.cooldown {
			return false, false
		}
		// Cooldown elapsed: the first caller past this point claims the
		// probe slot and flips state to half-open; later concurrent
		// callers arriving before the probe resolves keep fast-failing
		// because state is already half-open with no free slots.
		b.state = types.BreakerHalfOpen
		b.emit(types.MetricEvent{
			Type:            types.EventCircuitHalfOpen,
			TimeSinceTripMs: time.Since(b.trippedAt).Milliseconds(),
		})
		if int(b.probesInFlight.Load()) < b.halfOpenProbes {
			b.probesInFlight.Add(1)
			return true, true
		}
		return false, false

	case types.BreakerHalfOpen:
		if int(b.probesInFlight.Load()) < b.halfOpenProbes {
			b.probesInFlight.Add(1)
			return true, true
		}
		return false, false
	}

	return false, false
}

// Success reports that an allowed call succeeded. wasProbe must match the
// value Allow returned alongside allowed=true.
func (b *Breaker) Success(wasProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successesTotal++
	b.lastSuccessAt = time.Now()

	if wasProbe {
		b.probesInFlight.Add(-1)
	}

	previous := b.state
	b.consecutiveFailures = 0
	if b.state != types.BreakerClosed {
		b.state = types.BreakerClosed
		b.emit(types.MetricEvent{Type: types.EventCircuitReset, PreviousState: string(previous)})
	}
}

// Failure reports that an allowed call failed. wasProbe must match the
// value Allow returned alongside allowed=true.
func (b *Breaker) Failure(wasProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failuresTotal++
	b.lastFailureAt = time.Now()

	if wasProbe {
		b.probesInFlight.Add(-1)
		b.state = types.BreakerOpen
		b.trippedAt = time.Now()
		b.emit(types.MetricEvent{Type: types.EventCircuitTrip, Failures: b.consecutiveFailures, Threshold: b.threshold})
		return
	}

	b.consecutiveFailures++
	if b.state == types.BreakerClosed && b.consecutiveFailures >= b.threshold {
		b.state = types.BreakerOpen
		b.trippedAt = time.Now()
		b.emit(types.MetricEvent{Type: types.EventCircuitTrip, Failures: b.consecutiveFailures, Threshold: b.threshold})
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() types.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counters is a snapshot of the breaker's lifetime statistics.
type Counters struct {
	State               types.BreakerState
	ConsecutiveFailures int
	FailuresTotal       int64
	SuccessesTotal      int64
	LastFailureAt       time.Time
	LastSuccessAt       time.Time
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counters{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		FailuresTotal:       b.failuresTotal,
		SuccessesTotal:      b.successesTotal,
		LastFailureAt:       b.lastFailureAt,
		LastSuccessAt:       b.lastSuccessAt,
	}
}

func (b *Breaker) emit(ev types.MetricEvent) {
	if b.onEvent == nil {
		return
	}
	ev.TimestampMs = time.Now().UnixMilli()
	b.onEvent(ev)
}
