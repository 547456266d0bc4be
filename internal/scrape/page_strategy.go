package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/ostin-pil/lesca/internal/cache"
	"github.com/ostin-pil/lesca/internal/ratelimit"
)

// PathFunc builds the path segment (appended to baseURL) for a Request.
type PathFunc func(Request) (string, error)

// PageStrategy is the one concrete Strategy this repo ships: it handles
// any Kind whose path it's configured for, gating every fetch behind the
// Rate Limiter, reading through the Tiered Cache before ever reaching the
// Fetcher (spec.md §2's component flow: "... Browser Pool ... → scrape
// operation → Tiered Cache (read-through) / external collaborators ..."),
// and handing the fetched HTML to a Converter (out-of-scope collaborator,
// Passthrough by default).
type PageStrategy struct {
	kind     Kind
	priority int

	baseURL  string
	pathFunc PathFunc

	fetcher   Fetcher
	converter Converter
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	cacheTTL  time.Duration
}

// NewPageStrategy constructs a PageStrategy for kind, reusing cache,
// limiter and fetcher across every Kind it's registered for.
func NewPageStrategy(kind Kind, priority int, baseURL string, pathFunc PathFunc, fetcher Fetcher, converter Converter, c *cache.Cache, limiter *ratelimit.Limiter, cacheTTL time.Duration) *PageStrategy {
	if converter == nil {
		converter = Passthrough{}
	}
	return &PageStrategy{
		kind: kind, priority: priority,
		baseURL: baseURL, pathFunc: pathFunc,
		fetcher: fetcher, converter: converter,
		cache: c, limiter: limiter, cacheTTL: cacheTTL,
	}
}

func (p *PageStrategy) Name() string          { return fmt.Sprintf("page:%s", p.kind) }
func (p *PageStrategy) CanHandle(k Kind) bool { return k == p.kind }
func (p *PageStrategy) Priority() int         { return p.priority }

func (p *PageStrategy) cacheKey(req Request) string {
	return fmt.Sprintf("%s:%s:%d:%d", req.Kind, req.Slug, req.Page, req.PageSize)
}

func (p *PageStrategy) Execute(ctx context.Context, req Request) (Result, error) {
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx); err != nil {
			return Result{}, fmt.Errorf("scrape: rate limit: %w", err)
		}
	}

	key := p.cacheKey(req)
	if p.cache != nil {
		if cached, ok := p.cache.Get(key); ok {
			return Result{Kind: req.Kind, Slug: req.Slug, RawHTML: cached}, nil
		}
	}

	path, err := p.pathFunc(req)
	if err != nil {
		return Result{}, err
	}
	url := p.baseURL + path

	html, err := p.fetcher.Fetch(ctx, req.SessionName, url)
	if err != nil {
		return Result{}, err
	}

	converted, err := p.converter.Convert(html)
	if err != nil {
		return Result{}, fmt.Errorf("scrape: convert: %w", err)
	}

	if p.cache != nil {
		if err := p.cache.Set(key, converted, p.cacheTTL); err != nil {
			// A cache write failure degrades to "no cache", per spec.md
			// §7's "local-cache failures degrade to miss" policy; the
			// fetched result is still returned to the caller.
			_ = err
		}
	}

	return Result{Kind: req.Kind, Slug: req.Slug, RawHTML: converted}, nil
}
