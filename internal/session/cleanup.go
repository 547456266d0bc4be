package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ostin-pil/lesca/internal/types"
)

// CleanupPlan is the categorisation produced by a cleanup pass before (or
// instead of, under dryRun) any file is removed.
type CleanupPlan struct {
	AgeExpired   []string // deleted by the age phase (maxAge or metadata.expires)
	CountExpired []string // deleted by the count phase (maxSessions overflow)
	Survivors    []string // names that were kept
}

// Deleted returns every name the plan removes (or would remove, under dryRun).
func (p CleanupPlan) Deleted() []string {
	out := make([]string, 0, len(p.AgeExpired)+len(p.CountExpired))
	out = append(out, p.AgeExpired...)
	out = append(out, p.CountExpired...)
	return out
}

// RunCleanup executes the two-phase cleanup described in spec.md §4.D:
//
//  1. Age phase: a session is marked iff now-lastUsed > maxAge, or
//     metadata.expires is set and past.
//  2. Count phase: if maxSessions > 0 and survivors exceed it, sort
//     survivors by lastUsed descending and mark the tail.
//
// Under dryRun, the plan is computed but nothing is deleted.
func (s *Store) RunCleanup(maxAge time.Duration, maxSessions int, dryRun bool) (CleanupPlan, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return CleanupPlan{}, nil
		}
		return CleanupPlan{}, err
	}

	type candidate struct {
		name     string
		lastUsed int64
	}

	nowMs := time.Now().UnixMilli()
	var plan CleanupPlan
	var survivors []candidate

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".json")]

		// Read without loadLocked, which deletes expired files as a side
		// effect and would hide them from the plan (and mutate under dryRun).
		lock := s.lockFor(name)
		lock.Lock()
		raw, readErr := os.ReadFile(s.pathFor(name))
		lock.Unlock()
		if readErr != nil {
			continue
		}
		plaintext, decErr := s.decryptIfNeeded(raw)
		var sess types.Session
		if decErr != nil || json.Unmarshal(plaintext, &sess) != nil || !sess.Valid() {
			continue
		}

		expiredByAge := maxAge > 0 && time.Duration(nowMs-sess.Metadata.LastUsed)*time.Millisecond > maxAge
		expiredByDeadline := sess.Metadata.Expires != nil && *sess.Metadata.Expires <= nowMs
		if expiredByAge || expiredByDeadline {
			plan.AgeExpired = append(plan.AgeExpired, name)
			continue
		}

		survivors = append(survivors, candidate{name: name, lastUsed: sess.Metadata.LastUsed})
	}

	sort.Slice(survivors, func(i, j int) bool { return survivors[i].lastUsed > survivors[j].lastUsed })

	if maxSessions > 0 && len(survivors) > maxSessions {
		for _, c := range survivors[maxSessions:] {
			plan.CountExpired = append(plan.CountExpired, c.name)
		}
		survivors = survivors[:maxSessions]
	}

	for _, c := range survivors {
		plan.Survivors = append(plan.Survivors, c.name)
	}

	if dryRun {
		return plan, nil
	}

	for _, name := range plan.Deleted() {
		lock := s.lockFor(name)
		lock.Lock()
		if err := os.Remove(s.pathFor(name)); err != nil && !os.IsNotExist(err) {
			log.Warn().Str("session", name).Err(err).Msg("cleanup: failed to remove session file")
		}
		lock.Unlock()
	}

	return plan, nil
}

// CleanupScheduler runs RunCleanup on a fixed interval, optionally once at
// start. It is re-entrant-safe: if a run is still in flight when the ticker
// fires again, the new tick is skipped rather than queued or run
// concurrently. The scheduler's own goroutine is the only writer of its
// ticker, so UpdateConfig restarting it is race-free with respect to the
// tick loop (the loop always re-reads cfg via the guarded accessor).
type CleanupScheduler struct {
	store *Store

	mu      sync.Mutex
	cfg     CleanupConfig
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	inFlight atomic.Bool
}

// CleanupConfig holds the tunables RunCleanup consults each tick.
type CleanupConfig struct {
	MaxAge      time.Duration
	MaxSessions int
	Interval    time.Duration
	DryRun      bool
	RunOnStart  bool
}

// NewCleanupScheduler builds a scheduler bound to store. It does not start
// ticking until Start is called.
func NewCleanupScheduler(store *Store, cfg CleanupConfig) *CleanupScheduler {
	return &CleanupScheduler{store: store, cfg: cfg}
}

// Start begins the periodic cleanup loop. A no-op if already running.
func (c *CleanupScheduler) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	cfg := c.cfg

	if cfg.RunOnStart {
		c.runOnce(cfg)
	}

	c.wg.Add(1)
	go c.loop()
}

// Stop halts the periodic loop. A no-op if not running. Safe to call more
// than once.
func (c *CleanupScheduler) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
}

// UpdateConfig replaces the scheduler's configuration. If the interval
// changed and the scheduler was running, the ticker is restarted with the
// new interval; otherwise the new values simply take effect on the next tick.
func (c *CleanupScheduler) UpdateConfig(cfg CleanupConfig) {
	c.mu.Lock()
	intervalChanged := cfg.Interval != c.cfg.Interval
	wasRunning := c.running
	c.cfg = cfg
	c.mu.Unlock()

	if intervalChanged && wasRunning {
		c.Stop()
		c.Start()
	}
}

func (c *CleanupScheduler) loop() {
	defer c.wg.Done()

	c.mu.Lock()
	interval := c.cfg.Interval
	stopCh := c.stopCh
	c.mu.Unlock()
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			cfg := c.cfg
			if cfg.Interval != interval && cfg.Interval > 0 {
				interval = cfg.Interval
				ticker.Reset(interval)
			}
			c.mu.Unlock()
			c.runOnce(cfg)
		case <-stopCh:
			return
		}
	}
}

// runOnce performs a single cleanup pass, skipping it entirely if another
// pass is already in flight (re-entrant safety).
func (c *CleanupScheduler) runOnce(cfg CleanupConfig) {
	if !c.inFlight.CompareAndSwap(false, true) {
		log.Debug().Msg("session cleanup: previous run still in flight, skipping tick")
		return
	}
	defer c.inFlight.Store(false)

	plan, err := c.store.RunCleanup(cfg.MaxAge, cfg.MaxSessions, cfg.DryRun)
	if err != nil {
		log.Warn().Err(err).Msg("session cleanup run failed")
		return
	}

	log.Info().
		Int("age_expired", len(plan.AgeExpired)).
		Int("count_expired", len(plan.CountExpired)).
		Int("survivors", len(plan.Survivors)).
		Bool("dry_run", cfg.DryRun).
		Msg("session cleanup pass complete")
}
