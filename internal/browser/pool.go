// Package browser provides a per-session browser pool (spec.md §4.F). Each
// named session gets its own Pool of rod.Browser instances so that cookie
// jars and page state never leak across sessions; the Session Pool Manager
// (internal/poolmanager) owns one Pool per session name.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ostin-pil/lesca/internal/breaker"
	"github.com/ostin-pil/lesca/internal/config"
	"github.com/ostin-pil/lesca/internal/types"
)

// Pool manages a pool of reusable browser instances scoped to one session.
//
// Lock ordering: mu must be acquired before any browser entry is touched.
// Never hold mu while performing slow I/O (launch, navigate, close).
type Pool struct {
	sessionName string
	cfg         *config.Config
	breaker     *breaker.Breaker
	onEvent     func(types.MetricEvent)

	mu      sync.Mutex
	idle    []*browserEntry
	busy    map[*rod.Browser]*browserEntry
	waiters []chan acquireResult

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	createdTotal   atomic.Int64
	destroyedTotal atomic.Int64
	reusedTotal    atomic.Int64
}

type browserEntry struct {
	browser   *rod.Browser
	createdAt time.Time
	useCount  atomic.Int64
}

type acquireResult struct {
	browser *rod.Browser
	err     error
}

// New creates a Pool for sessionName and warms it up to cfg.BrowserPoolMinSize.
// onEvent, if non-nil, receives a MetricEvent for every pool lifecycle
// transition (spec.md §3's pool:* event family).
func New(sessionName string, cfg *config.Config, onEvent func(types.MetricEvent)) (*Pool, error) {
	p := &Pool{
		sessionName: sessionName,
		cfg:         cfg,
		onEvent:     onEvent,
		busy:        make(map[*rod.Browser]*browserEntry),
		stopCh:      make(chan struct{}),
		breaker: breaker.New(cfg.CircuitThreshold, cfg.CircuitCooldown, cfg.CircuitHalfOpenProbes, func(ev types.MetricEvent) {
			ev.SessionName = sessionName
			if onEvent != nil {
				onEvent(ev)
			}
		}),
	}

	for i := 0; i < cfg.BrowserPoolMinSize; i++ {
		entry, err := p.spawnEntry(context.Background())
		if err != nil {
			p.Drain()
			return nil, fmt.Errorf("warm up session %q browser %d: %w", sessionName, i, err)
		}
		p.idle = append(p.idle, entry)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.idleSweepRoutine()
	}()

	log.Info().Str("session", sessionName).Int("min_size", cfg.BrowserPoolMinSize).Msg("browser pool warmed up")
	return p, nil
}

func (p *Pool) emit(ev types.MetricEvent) {
	if p.onEvent == nil {
		return
	}
	ev.SessionName = p.sessionName
	ev.TimestampMs = time.Now().UnixMilli()
	p.onEvent(ev)
}

func (p *Pool) createLauncher() *launcher.Launcher {
	l := launcher.New()
	if p.cfg.BrowserPath != "" {
		l = l.Bin(p.cfg.BrowserPath)
	}
	if p.cfg.BrowserHeadless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp").
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation").
		Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns").
		Set("enable-features", "NetworkService,NetworkServiceInProcess").
		Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("enable-webgl").
		Set("enable-webgl2").
		Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1920,1080").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update").
		Set("js-flags", "--max-old-space-size=256").
		Set("disable-ipc-flooding-protection").
		Set("disable-renderer-backgrounding").
		Set("disable-gpu-sandbox")

	if isARM() {
		l = l.Set("disable-gpu-compositing")
	}
	return l
}

// spawnEntry launches a browser, gated by the pool's circuit breaker: a
// string of launch failures trips the breaker so callers fail fast
// instead of queueing behind a Chrome binary that keeps crash-looping.
func (p *Pool) spawnEntry(ctx context.Context) (*browserEntry, error) {
	allowed, isProbe := p.breaker.Allow()
	if !allowed {
		return nil, types.ErrCircuitOpen
	}

	browser, err := p.launch(ctx)
	if err != nil {
		p.breaker.Failure(isProbe)
		p.emit(types.MetricEvent{Type: types.EventPoolFailure, Error: err.Error()})
		return nil, err
	}
	p.breaker.Success(isProbe)

	p.createdTotal.Add(1)
	p.emit(types.MetricEvent{Type: types.EventPoolBrowserCreated, PoolSize: p.size()})
	return &browserEntry{browser: browser, createdAt: time.Now()}, nil
}

func (p *Pool) launch(ctx context.Context) (*rod.Browser, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	l := p.createLauncher()
	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	return b, nil
}

// Acquire obtains a browser for this session. It blocks until one is
// idle, a new one can be spawned under BrowserPoolMaxSize, the context is
// canceled, or BrowserAcquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*rod.Browser, error) {
	start := time.Now()
	if p.closed.Load() {
		return nil, types.ErrPoolClosed
	}

	p.mu.Lock()
	if len(p.idle) > 0 {
		entry := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.busy[entry.browser] = entry
		p.mu.Unlock()
		if !p.isHealthy(entry.browser) {
			p.mu.Lock()
			delete(p.busy, entry.browser)
			p.mu.Unlock()
			go p.discardUnhealthy(entry)
			return p.Acquire(ctx)
		}
		entry.useCount.Add(1)
		p.reusedTotal.Add(1)
		p.emit(types.MetricEvent{Type: types.EventPoolAcquire, Reused: true, PoolSize: p.size(), WaitTimeMs: int(time.Since(start).Milliseconds())})
		return entry.browser, nil
	}

	if p.busyCountLocked()+len(p.idle) < p.cfg.BrowserPoolMaxSize {
		p.mu.Unlock()
		entry, err := p.spawnEntry(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		entry.useCount.Add(1)
		p.busy[entry.browser] = entry
		p.mu.Unlock()
		p.emit(types.MetricEvent{Type: types.EventPoolAcquire, Reused: false, PoolSize: p.size(), WaitTimeMs: int(time.Since(start).Milliseconds())})
		return entry.browser, nil
	}

	waiter := make(chan acquireResult, 1)
	p.waiters = append(p.waiters, waiter)
	p.mu.Unlock()

	p.emit(types.MetricEvent{Type: types.EventPoolExhausted, MaxSize: p.cfg.BrowserPoolMaxSize})

	select {
	case res := <-waiter:
		if res.err != nil {
			return nil, res.err
		}
		p.emit(types.MetricEvent{Type: types.EventPoolAcquire, Reused: true, PoolSize: p.size(), WaitTimeMs: int(time.Since(start).Milliseconds())})
		return res.browser, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err())
	case <-time.After(p.cfg.BrowserAcquireTimeout):
		return nil, types.ErrPoolExhausted
	}
}

func (p *Pool) busyCountLocked() int { return len(p.busy) }

func (p *Pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + len(p.busy)
}

// Release returns a browser to the pool, handing it directly to a waiter
// if one is queued. If page reuse is disabled, the browser's pages are
// first navigated to about:blank; if that cleanup fails, the browser is
// discarded and replaced rather than recycled.
func (p *Pool) Release(b *rod.Browser) {
	if b == nil {
		return
	}

	p.mu.Lock()
	entry, ok := p.busy[b]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.busy, b)

	if p.closed.Load() {
		p.mu.Unlock()
		_ = b.Close()
		return
	}

	if len(p.waiters) > 0 {
		waiter := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()

		if !p.cfg.PageReuse {
			if err := p.cleanupPages(b); err != nil {
				go p.discardUnhealthy(entry)
				waiter <- acquireResult{err: types.ErrBrowserUnhealthy}
				return
			}
		}
		p.mu.Lock()
		p.busy[b] = entry
		p.mu.Unlock()
		waiter <- acquireResult{browser: b}
		return
	}
	p.mu.Unlock()

	if !p.cfg.PageReuse {
		if err := p.cleanupPages(b); err != nil {
			go p.discardUnhealthy(entry)
			p.emit(types.MetricEvent{Type: types.EventPoolRelease, PoolSize: p.size()})
			return
		}
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		_ = b.Close()
		return
	}
	p.idle = append(p.idle, entry)
	p.mu.Unlock()

	p.emit(types.MetricEvent{Type: types.EventPoolRelease, PoolSize: p.size()})
}

func (p *Pool) cleanupPages(b *rod.Browser) error {
	pages, err := b.Pages()
	if err != nil {
		return err
	}
	for _, page := range pages {
		if err := page.Navigate("about:blank"); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) isHealthy(b *rod.Browser) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return false
	}
	defer page.Close()

	return page.Context(ctx).Navigate("about:blank") == nil
}

func (p *Pool) discardUnhealthy(entry *browserEntry) {
	_ = entry.browser.Close()
	p.destroyedTotal.Add(1)
	p.emit(types.MetricEvent{Type: types.EventPoolBrowserDestroyed, Reason: types.DestroyReasonError, PoolSize: p.size()})

	if p.closed.Load() {
		return
	}
	replacement, err := p.spawnEntry(context.Background())
	if err != nil {
		log.Warn().Str("session", p.sessionName).Err(err).Msg("failed to replace unhealthy browser")
		return
	}

	p.mu.Lock()
	if len(p.waiters) > 0 {
		waiter := p.waiters[0]
		p.waiters = p.waiters[1:]
		replacement.useCount.Add(1)
		p.busy[replacement.browser] = replacement
		p.mu.Unlock()
		waiter <- acquireResult{browser: replacement.browser}
		return
	}
	p.idle = append(p.idle, replacement)
	p.mu.Unlock()
}

// idleSweepRoutine evicts idle browsers down to BrowserPoolMinSize on the
// configured interval, oldest first.
func (p *Pool) idleSweepRoutine() {
	ticker := time.NewTicker(p.cfg.IdleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	var toClose []*browserEntry
	for len(p.idle) > p.cfg.BrowserPoolMinSize && len(p.idle) > 0 {
		oldestIdx := 0
		for i, e := range p.idle {
			if e.createdAt.Before(p.idle[oldestIdx].createdAt) {
				oldestIdx = i
			}
		}
		toClose = append(toClose, p.idle[oldestIdx])
		p.idle = append(p.idle[:oldestIdx], p.idle[oldestIdx+1:]...)
	}
	p.mu.Unlock()

	for _, entry := range toClose {
		_ = entry.browser.Close()
		p.destroyedTotal.Add(1)
		p.emit(types.MetricEvent{Type: types.EventPoolBrowserDestroyed, Reason: types.DestroyReasonIdle, PoolSize: p.size()})
	}
}

// Stats returns a point-in-time snapshot of this pool's counters.
func (p *Pool) Stats() types.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.PoolStats{
		SessionName: p.sessionName,
		Total:       len(p.idle) + len(p.busy),
		Active:      len(p.busy),
		Idle:        len(p.idle),
		Created:     p.createdTotal.Load(),
		Destroyed:   p.destroyedTotal.Load(),
		Reused:      p.reusedTotal.Load(),
		Waiting:     len(p.waiters),
	}
}

// Drain closes every browser (idle and busy) and stops background
// routines. Safe to call multiple times.
func (p *Pool) Drain() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	all := make([]*browserEntry, 0, len(p.idle)+len(p.busy))
	all = append(all, p.idle...)
	for _, e := range p.busy {
		all = append(all, e)
	}
	p.idle = nil
	p.busy = make(map[*rod.Browser]*browserEntry)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w <- acquireResult{err: types.ErrPoolDraining}
	}

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, entry := range all {
		b := entry.browser
		eg.Go(func() error {
			if err := b.Close(); err != nil {
				log.Warn().Str("session", p.sessionName).Err(err).Msg("error closing browser during drain")
			}
			p.emit(types.MetricEvent{Type: types.EventPoolBrowserDestroyed, Reason: types.DestroyReasonDrain})
			return nil
		})
	}
	return eg.Wait()
}

// MemoryPressureCheck reports current process allocation against maxMB,
// leaving it to the caller to decide whether to trigger a pool-wide
// recycle; it does not act on its own.
func MemoryPressureCheck(maxMB int) (allocMB uint64, overLimit bool) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	allocMB = m.Alloc / 1024 / 1024
	return allocMB, int64(m.Alloc) > int64(maxMB)*1024*1024
}

func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
