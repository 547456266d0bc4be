package browser

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ostin-pil/lesca/internal/types"
)

// maxPageReferences caps concurrent holders of a Handle's page, guarding
// against runaway fan-out from a buggy caller.
const maxPageReferences = 100

// Handle wraps one page of an acquired browser with reference counting,
// so a page can be shared by concurrent readers (e.g. a cookie snapshot
// running alongside a scrape) without racing its Close against Release.
//
// Lock ordering: always acquire opMu before mu; never hold mu during
// slow I/O (navigation, cookie calls).
type Handle struct {
	Browser   *rod.Browser
	Page      *rod.Page
	CreatedAt time.Time

	mu       sync.Mutex
	refCount atomic.Int32
	closing  atomic.Bool
	opMu     sync.Mutex
}

// NewHandle opens a blank page on browser and wraps it in a Handle.
func NewHandle(b *rod.Browser) (*Handle, error) {
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	return &Handle{Browser: b, Page: page, CreatedAt: time.Now()}, nil
}

// AcquirePage returns the handle's page with a reference held. Returns
// nil if the handle is closing, the page is gone, or the reference cap
// is reached. Callers must call ReleasePage when done — prefer
// AcquirePageWithRelease, which can't be forgotten.
func (h *Handle) AcquirePage() *rod.Page {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing.Load() || h.Page == nil {
		return nil
	}
	if h.refCount.Load() >= maxPageReferences {
		return nil
	}
	h.refCount.Add(1)
	return h.Page
}

// AcquirePageWithRelease returns the page and a release func guaranteed
// to run at most once even if called multiple times.
func (h *Handle) AcquirePageWithRelease() (page *rod.Page, release func()) {
	page = h.AcquirePage()
	if page == nil {
		return nil, func() {}
	}
	var once sync.Once
	return page, func() { once.Do(h.ReleasePage) }
}

// ReleasePage decrements the reference count. Safe to call redundantly;
// an unbalanced release is clamped to zero rather than going negative.
func (h *Handle) ReleasePage() {
	if h.refCount.Add(-1) < 0 {
		h.refCount.Store(0)
	}
}

// Close marks the handle closing, waits up to timeout for in-flight page
// references to drain, then closes the page. Returns false if references
// did not drain in time — the handle is left marked closing so no new
// reference can be acquired, and the caller should retry Close later.
func (h *Handle) Close(timeout time.Duration) bool {
	h.closing.Store(true)
	if !h.waitForReferences(timeout) {
		return false
	}

	h.mu.Lock()
	page := h.Page
	h.Page = nil
	h.mu.Unlock()

	if page != nil {
		_ = page.Close()
	}
	return true
}

func (h *Handle) waitForReferences(timeout time.Duration) bool {
	if h.refCount.Load() <= 0 {
		return true
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return false
		case <-ticker.C:
			if h.refCount.Load() <= 0 {
				return true
			}
		}
	}
}

// LockOperation serialises solve-style operations against this handle's
// page so two callers never navigate it concurrently.
func (h *Handle) LockOperation()   { h.opMu.Lock() }
func (h *Handle) UnlockOperation() { h.opMu.Unlock() }

// Cookies returns the handle's page cookies, or ErrBrowserUnhealthy if
// the page is unavailable.
func (h *Handle) Cookies() ([]*proto.NetworkCookie, error) {
	page, release := h.AcquirePageWithRelease()
	if page == nil {
		return nil, types.ErrBrowserUnhealthy
	}
	defer release()
	return page.Cookies(nil)
}

// SetCookies applies cookies to the handle's page.
func (h *Handle) SetCookies(cookies []*proto.NetworkCookieParam) error {
	page, release := h.AcquirePageWithRelease()
	if page == nil {
		return types.ErrBrowserUnhealthy
	}
	defer release()
	return page.SetCookies(cookies)
}
