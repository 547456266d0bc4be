package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/ostin-pil/lesca/internal/humanize"
)

// stealthScriptGapMinMs/MaxMs bound the pause between successive script
// injections: a human-operated browser never fires every init script in
// the same tick, and some detection scripts check for exactly that.
const (
	stealthScriptGapMinMs = 20
	stealthScriptGapMaxMs = 80
)

// StealthManager applies an ordered list of opaque init scripts to newly
// created pages (spec.md §4.J). The scripts themselves are treated as
// payloads supplied by a collaborator — this package never parses or
// validates their contents, it only sequences and injects them.
type StealthManager struct {
	scripts []string
}

// NewStealthManager builds a manager from extraScripts, appended after
// the default payload (the pack's embedded anti-detection patch plus
// go-rod/stealth's own script). Pass nil/empty to use only the defaults.
func NewStealthManager(extraScripts ...string) *StealthManager {
	scripts := []string{defaultStealthScript, stealth.JS}
	scripts = append(scripts, extraScripts...)
	return &StealthManager{scripts: scripts}
}

// Apply injects every configured script into page, in order, pausing a
// short Gaussian-jittered gap between each so the whole sequence doesn't
// land in a single CDP tick. A script that raises SyntaxError/
// ReferenceError aborts with an error (a broken payload); any other
// failure (e.g. an API missing on about:blank) is logged and treated as
// non-fatal so later scripts still run.
func (m *StealthManager) Apply(ctx context.Context, page *rod.Page) error {
	for i, script := range m.scripts {
		if i > 0 {
			humanize.SleepWithContext(ctx, humanize.GaussianJitter(stealthScriptGapMinMs, stealthScriptGapMaxMs, 0.15))
		}
		if _, err := page.Evaluate(rod.Eval(script)); err != nil {
			errStr := err.Error()
			if strings.Contains(errStr, "SyntaxError") || strings.Contains(errStr, "ReferenceError") {
				return fmt.Errorf("stealth script %d: %w", i, err)
			}
			log.Warn().Int("script_index", i).Err(err).Msg("stealth script had non-fatal errors, continuing")
		}
	}
	return nil
}

// defaultStealthScript masks the most common headless-automation
// detection vectors (navigator.webdriver, plugin list, WebGL vendor
// strings). Opaque by design — see StealthManager's doc comment.
const defaultStealthScript = `
(() => {
    'use strict';
    if (window.__stealthApplied) return;
    window.__stealthApplied = true;
    try {
        Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
        Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'], configurable: true });
        Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8, configurable: true });
        Object.defineProperty(navigator, 'deviceMemory', { get: () => 8, configurable: true });
        if (!window.chrome) window.chrome = {};
        if (!window.chrome.runtime) {
            window.chrome.runtime = {
                connect: function() { return { onMessage: { addListener: function() {} }, postMessage: function() {} }; },
                sendMessage: function() {},
                onMessage: { addListener: function() {} },
                id: undefined
            };
        }
        try {
            ['WebGLRenderingContext', 'WebGL2RenderingContext'].forEach(function(ctxName) {
                const ctx = window[ctxName];
                if (!ctx || !ctx.prototype) return;
                const original = ctx.prototype.getParameter;
                if (typeof original !== 'function' || original._stealth) return;
                ctx.prototype.getParameter = function(param) {
                    if (param === 37445) return 'Intel Inc.';
                    if (param === 37446) return 'Intel Iris OpenGL Engine';
                    return original.call(this, param);
                };
                ctx.prototype.getParameter._stealth = true;
            });
        } catch (e) {}
    } catch (e) {
        console.debug('[stealth] patch failed:', e.message);
    }
})();
`

// BlockResources configures the page to block the given resource
// categories, reducing memory use and load time. Returns a cleanup
// function that must be called when the page is closed, to stop the
// request-interception listener goroutines; safe to call multiple times.
func BlockResources(ctx context.Context, page *rod.Page, blockImages, blockCSS, blockFonts, blockMedia bool) (cleanup func(), err error) {
	err = proto.FetchEnable{
		Patterns: buildBlockPatterns(blockImages, blockCSS, blockFonts, blockMedia),
	}.Call(page)
	if err != nil {
		return func() {}, err
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	pageWithCtx := page.Context(listenerCtx)

	var wg sync.WaitGroup
	var once sync.Once
	cleanupFunc := func() {
		once.Do(func() {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				log.Warn().Msg("timeout waiting for resource-blocking listeners to stop")
			}
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.TargetTargetDestroyed) bool {
			cleanupFunc()
			return true
		})()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.FetchRequestPaused) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}
			_ = proto.FetchFailRequest{RequestID: e.RequestID, ErrorReason: proto.NetworkErrorReasonBlockedByClient}.Call(page)
			return false
		})()
	}()

	return cleanupFunc, nil
}

func buildBlockPatterns(blockImages, blockCSS, blockFonts, blockMedia bool) []*proto.FetchRequestPattern {
	var patterns []*proto.FetchRequestPattern
	if blockImages {
		for _, p := range []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico", "*.bmp"} {
			patterns = append(patterns, &proto.FetchRequestPattern{URLPattern: p, ResourceType: proto.NetworkResourceTypeImage})
		}
	}
	if blockCSS {
		patterns = append(patterns, &proto.FetchRequestPattern{URLPattern: "*.css", ResourceType: proto.NetworkResourceTypeStylesheet})
	}
	if blockFonts {
		for _, p := range []string{"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot"} {
			patterns = append(patterns, &proto.FetchRequestPattern{URLPattern: p, ResourceType: proto.NetworkResourceTypeFont})
		}
	}
	if blockMedia {
		for _, p := range []string{"*.mp4", "*.webm", "*.mp3", "*.ogg", "*.wav"} {
			patterns = append(patterns, &proto.FetchRequestPattern{URLPattern: p, ResourceType: proto.NetworkResourceTypeMedia})
		}
	}
	return patterns
}

// SetUserAgent overrides the page's reported user agent.
func SetUserAgent(page *rod.Page, userAgent string) error {
	return proto.NetworkSetUserAgentOverride{UserAgent: userAgent}.Call(page)
}

// SetViewport sets the page's viewport dimensions.
func SetViewport(page *rod.Page, width, height int) error {
	return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: width, Height: height, DeviceScaleFactor: 1, Mobile: false,
	})
}

// SetCookies applies cookies to the page.
func SetCookies(page *rod.Page, cookies []*proto.NetworkCookieParam) error {
	return page.SetCookies(cookies)
}

// GetCookies retrieves all cookies from the page.
func GetCookies(page *rod.Page) ([]*proto.NetworkCookie, error) {
	return page.Cookies(nil)
}
