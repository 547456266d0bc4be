package main

import (
	"fmt"

	"github.com/ostin-pil/lesca/internal/batch"
	"github.com/ostin-pil/lesca/internal/cache"
	"github.com/ostin-pil/lesca/internal/config"
	"github.com/ostin-pil/lesca/internal/hooks"
	"github.com/ostin-pil/lesca/internal/metrics"
	"github.com/ostin-pil/lesca/internal/poolmanager"
	"github.com/ostin-pil/lesca/internal/ratelimit"
	"github.com/ostin-pil/lesca/internal/scrape"
	"github.com/ostin-pil/lesca/internal/session"
)

// app bundles every core substrate component the CLI commands share,
// constructed once at startup and threaded through explicitly — spec.md
// §9's "Module-level singletons" redesign flag: no process-wide mutable
// state, just an application-wide context built in newApp and passed to
// each command.
type app struct {
	cfg *config.Config

	sessions *session.Store
	pools    *poolmanager.Manager
	cache    *cache.Cache
	limiter  *ratelimit.Limiter
	metrics  *metrics.Collector
	prom     *metrics.PrometheusExporter
	hooks    *hooks.Chain
	scrape   *scrape.Table
}

// newApp wires every component from cfg. The Metrics Collector is built
// first so its Record method can be threaded into the pool manager (and,
// transitively, every per-session browser pool and circuit breaker) as
// the onEvent callback — spec.md §2's "every transition emits a Metric
// Event into the Metrics Collector."
func newApp(cfg *config.Config) (*app, error) {
	sessions, err := session.NewStore(cfg.SessionsDir, cfg.SessionEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	collector := metrics.New(cfg.MetricsMaxHistorySize, cfg.MetricsWindow)
	pools := poolmanager.New(cfg, collector.Record)

	c, err := cache.New(cfg.CacheDir, cfg.CacheL1MaxEntries, cfg.CacheL1DefaultTTL, cfg.CacheL2MaxSizeBytes, cfg.CacheCompression)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimitMinDelay, cfg.RateLimitMaxDelay, cfg.RateLimitJitter)
	chain := hooks.NewChain()

	fetcher := &scrape.BrowserFetcher{Manager: pools}
	table := scrape.NewTable(
		scrape.NewPageStrategy(scrape.KindProblem, 0, cfg.BaseURL, func(r scrape.Request) (string, error) {
			if r.Slug == "" {
				return "", newUsageError("scrape problem: slug is required")
			}
			return "/problems/" + r.Slug, nil
		}, fetcher, nil, c, limiter, cfg.CacheL1DefaultTTL),
		scrape.NewPageStrategy(scrape.KindList, 0, cfg.BaseURL, func(r scrape.Request) (string, error) {
			return "/problems", nil
		}, fetcher, nil, c, limiter, cfg.CacheL1DefaultTTL),
	)

	return &app{
		cfg:      cfg,
		sessions: sessions,
		pools:    pools,
		cache:    c,
		limiter:  limiter,
		metrics:  collector,
		prom:     metrics.NewPrometheusExporter(),
		hooks:    chain,
		scrape:   table,
	}, nil
}

// newExecutor builds a fresh Batch Executor bound to cfg's batch
// parameters. Each command that drives a batch constructs its own
// Executor (onProgress and resume vary per command) rather than app
// owning one.
func (a *app) newExecutor(resume bool, onProgress batch.ProgressFunc) *batch.Executor {
	return batch.New(batch.Config{
		Concurrency:         a.cfg.BatchConcurrency,
		ContinueOnError:     a.cfg.BatchContinueOnError,
		DelayBetweenBatches: a.cfg.BatchDelayBetween,
		ProgressFile:        a.cfg.BatchProgressFile,
		Resume:              resume,
	}, onProgress)
}

// close drains every browser pool. Session store files need no closing
// (each operation opens/closes its own file descriptors).
func (a *app) close() error {
	return a.pools.DrainAll()
}
