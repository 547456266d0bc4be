package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/ostin-pil/lesca/internal/browser"
	"github.com/ostin-pil/lesca/internal/poolmanager"
)

// handleCloseTimeout bounds how long Fetch waits for in-flight page
// references to drain before forcing the handle's page closed.
const handleCloseTimeout = 5 * time.Second

// Fetcher retrieves raw page content for a URL. The transport layer
// (HTTP/GraphQL client) is an out-of-scope external collaborator per
// spec.md §1; BrowserFetcher below is the one concrete implementation
// this repo ships, built on the in-scope Browser Pool rather than the
// out-of-scope transport.
type Fetcher interface {
	Fetch(ctx context.Context, sessionName, url string) (html string, err error)
}

// Converter turns raw HTML into portable Markdown. This is named
// out-of-scope in spec.md §1 ("HTML→Markdown conversion") — Passthrough
// below is a fake standing in for the real collaborator, used only so
// the CLI has something to wire end to end.
type Converter interface {
	Convert(html string) (string, error)
}

// Passthrough is the fake Converter used when no real HTML→Markdown
// collaborator is configured: it returns the HTML unchanged.
type Passthrough struct{}

func (Passthrough) Convert(html string) (string, error) { return html, nil }

// BrowserFetcher fetches a URL's rendered HTML through the Session Pool
// Manager: acquire a browser from sessionName's pool, navigate, read the
// document, release. Acquisition failures (pool exhaustion, an open
// circuit) surface unchanged to the caller.
type BrowserFetcher struct {
	Manager *poolmanager.Manager
}

func (f *BrowserFetcher) Fetch(ctx context.Context, sessionName, url string) (string, error) {
	b, err := f.Manager.AcquireBrowser(ctx, sessionName)
	if err != nil {
		return "", fmt.Errorf("scrape: acquire browser: %w", err)
	}
	defer func() {
		if relErr := f.Manager.ReleaseBrowser(sessionName, b); relErr != nil {
			// Release failures are logged by the manager's caller in
			// practice; here there is no logger in scope for a bare
			// Fetcher, so the error is swallowed per spec.md §7's
			// "local-cache failures degrade to miss"-style policy of
			// never letting a cleanup-path failure mask the real result.
		}
	}()

	handle, err := browser.NewHandle(b)
	if err != nil {
		return "", fmt.Errorf("scrape: open page: %w", err)
	}
	defer handle.Close(handleCloseTimeout)

	page, release := handle.AcquirePageWithRelease()
	if page == nil {
		return "", fmt.Errorf("scrape: handle closed before use")
	}
	defer release()

	handle.LockOperation()
	defer handle.UnlockOperation()

	page = page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("scrape: navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("scrape: wait load: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("scrape: read html: %w", err)
	}
	return html, nil
}
