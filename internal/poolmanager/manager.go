// Package poolmanager implements the Session Pool Manager (spec.md §4.G):
// a registry of one browser.Pool per session name, created lazily and
// drained together on shutdown.
package poolmanager

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/ostin-pil/lesca/internal/browser"
	"github.com/ostin-pil/lesca/internal/config"
	"github.com/ostin-pil/lesca/internal/types"
)

// Manager owns a browser.Pool per session name, created on first
// AcquireBrowser for that name using a uniform config. Safe for concurrent
// use across many session names; operations on different sessions proceed
// in parallel (spec.md §5), serialised only by the per-manager map mutex
// during pool lookup/creation, never while a pool itself is blocked on
// acquire.
type Manager struct {
	cfg     *config.Config
	onEvent func(types.MetricEvent)

	mu    sync.RWMutex
	pools map[string]*browser.Pool

	// owners tracks which pool most recently handed out a given *rod.Browser,
	// so Release can reject a caller naming the wrong session.
	ownersMu sync.Mutex
	owners   map[*rod.Browser]string
}

// New constructs a Manager. cfg supplies the uniform per-pool settings
// (BrowserPoolMinSize/MaxSize, BrowserAcquireTimeout, retry knobs); onEvent,
// if non-nil, receives every pool's and breaker's metric events with
// SessionName already stamped by the underlying browser.Pool.
func New(cfg *config.Config, onEvent func(types.MetricEvent)) *Manager {
	return &Manager{
		cfg:     cfg,
		onEvent: onEvent,
		pools:   make(map[string]*browser.Pool),
		owners:  make(map[*rod.Browser]string),
	}
}

// poolFor returns the pool for sessionName, creating it lazily on first use.
func (m *Manager) poolFor(sessionName string) (*browser.Pool, error) {
	m.mu.RLock()
	p, ok := m.pools[sessionName]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[sessionName]; ok {
		return p, nil
	}

	p, err := browser.New(sessionName, m.cfg, m.onEvent)
	if err != nil {
		return nil, fmt.Errorf("poolmanager: create pool for %q: %w", sessionName, err)
	}
	m.pools[sessionName] = p
	return p, nil
}

// AcquireBrowser obtains a browser from sessionName's pool, creating the
// pool on first use. If PoolRetryOnFailure is set, a transient acquire
// failure is retried up to PoolMaxRetries times; the pool's own circuit
// breaker is honoured on every attempt (a tripped breaker fast-fails every
// retry rather than being bypassed).
func (m *Manager) AcquireBrowser(ctx context.Context, sessionName string) (*rod.Browser, error) {
	p, err := m.poolFor(sessionName)
	if err != nil {
		return nil, err
	}

	maxAttempts := 1
	if m.cfg.PoolRetryOnFailure && m.cfg.PoolMaxRetries > 0 {
		maxAttempts = 1 + m.cfg.PoolMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		b, err := p.Acquire(ctx)
		if err == nil {
			m.ownersMu.Lock()
			m.owners[b] = sessionName
			m.ownersMu.Unlock()
			return b, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		log.Debug().Str("session", sessionName).Int("attempt", attempt+1).Err(err).
			Msg("poolmanager: retrying browser acquisition")
	}
	return nil, lastErr
}

// isRetryable reports whether a failed acquire is worth retrying. A
// canceled/expired context, a closed or draining pool, and an open circuit
// are all terminal for this attempt chain; only exhaustion (the waiter
// simply timed out, e.g. a transient burst) is retried.
func isRetryable(err error) bool {
	switch {
	case err == types.ErrPoolExhausted:
		return true
	case err == types.ErrPoolClosed, err == types.ErrPoolDraining, err == types.ErrCircuitOpen:
		return false
	default:
		return false
	}
}

// ReleaseBrowser returns b to sessionName's pool. Releasing to a session
// name other than the one AcquireBrowser returned b from is an error
// (spec.md §4.G "releasing to the wrong pool is an error") and leaves b
// untouched — the caller must retry with the correct name.
func (m *Manager) ReleaseBrowser(sessionName string, b *rod.Browser) error {
	if b == nil {
		return nil
	}

	m.ownersMu.Lock()
	owner, ok := m.owners[b]
	m.ownersMu.Unlock()
	if !ok || owner != sessionName {
		return types.ErrWrongPoolRelease
	}

	m.mu.RLock()
	p, ok := m.pools[sessionName]
	m.mu.RUnlock()
	if !ok {
		return types.ErrUnknownSessionPool
	}

	p.Release(b)
	m.ownersMu.Lock()
	delete(m.owners, b)
	m.ownersMu.Unlock()
	return nil
}

// DrainAll drains every registered pool concurrently, returning once every
// pool has fully drained. The first error from any pool's Drain is
// returned, but all pools are given the chance to drain regardless.
func (m *Manager) DrainAll() error {
	m.mu.Lock()
	pools := make([]*browser.Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	eg := new(errgroup.Group)
	for _, p := range pools {
		p := p
		eg.Go(func() error {
			return p.Drain()
		})
	}
	return eg.Wait()
}

// GetStatistics returns the stats for a single named pool, or every
// registered pool's stats when sessionName is empty.
func (m *Manager) GetStatistics(sessionName string) ([]types.PoolStats, error) {
	if sessionName != "" {
		m.mu.RLock()
		p, ok := m.pools[sessionName]
		m.mu.RUnlock()
		if !ok {
			return nil, types.ErrUnknownSessionPool
		}
		return []types.PoolStats{p.Stats()}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]types.PoolStats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	return stats, nil
}

// SessionNames returns every session name with a registered pool.
func (m *Manager) SessionNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// MemoryPressureCheck reads the process's own memory usage once (via
// browser.MemoryPressureCheck) and reports whether it is over maxMB. It
// does not evict or recycle any browser itself.
func (m *Manager) MemoryPressureCheck(maxMB int) (allocMB uint64, overLimit bool) {
	return browser.MemoryPressureCheck(maxMB)
}
