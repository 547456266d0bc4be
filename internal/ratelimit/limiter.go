package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ostin-pil/lesca/internal/humanize"
)

// Limiter is a single-lane spacing gate: callers serialise through
// Acquire. It is explicitly NOT a token bucket and makes no burst
// allowance — see spec.md §4.A.
type Limiter struct {
	mu            sync.Mutex
	minDelay      time.Duration
	maxDelay      time.Duration
	jitter        bool
	lastRequestAt time.Time
}

// New creates a Limiter with the given [minDelay, maxDelay] spacing range.
// If jitter is true, each call picks its target delay uniformly from the
// range; otherwise every call waits exactly minDelay.
func New(minDelay, maxDelay time.Duration, jitter bool) *Limiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Limiter{minDelay: minDelay, maxDelay: maxDelay, jitter: jitter}
}

// Acquire blocks until at least the limiter's target spacing has elapsed
// since the previous Acquire, or ctx is cancelled. It always stamps
// lastRequestAt before returning, even on cancellation — a cancelled
// caller still "used" the lane for timing purposes, mirroring the
// spec's "stamps lastRequestAt = now" step happening unconditionally
// after the sleep in the reference design.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	target := l.targetDelayLocked()
	last := l.lastRequestAt
	now := time.Now()
	wait := target - now.Sub(last)
	if last.IsZero() {
		wait = 0
	}
	l.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			l.stamp()
			return ctx.Err()
		}
	}

	l.stamp()
	return nil
}

func (l *Limiter) stamp() {
	l.mu.Lock()
	l.lastRequestAt = time.Now()
	l.mu.Unlock()
}

func (l *Limiter) targetDelayLocked() time.Duration {
	if !l.jitter || l.maxDelay <= l.minDelay {
		return l.minDelay
	}
	return humanize.RandomDuration(int(l.minDelay/time.Millisecond), int(l.maxDelay/time.Millisecond))
}

// IncreaseDelay multiplies both bounds by k, widening the window after a
// detected upstream 429. k must be ≥ 1; values below 1 are ignored.
func (l *Limiter) IncreaseDelay(k float64) {
	if k < 1 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minDelay = time.Duration(float64(l.minDelay) * k)
	l.maxDelay = time.Duration(float64(l.maxDelay) * k)
}

// ResetDelay restores the limiter's bounds to min/max, undoing any prior
// IncreaseDelay widening.
func (l *Limiter) ResetDelay(minDelay, maxDelay time.Duration) {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minDelay = minDelay
	l.maxDelay = maxDelay
}

// Bounds returns the limiter's current [min, max] delay window.
func (l *Limiter) Bounds() (min, max time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minDelay, l.maxDelay
}
