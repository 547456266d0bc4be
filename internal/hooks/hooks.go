// Package hooks implements the Plugin Hooks chain (spec.md §4.K): an
// ordered list of plugins invoked at five points in a scrape's lifecycle,
// each able to transform the in-flight value without aborting the chain
// on failure.
package hooks

import (
	"context"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// Plugin is one named entry in the chain. Any hook left nil is skipped.
// A hook signals "no change, previous value stands" by returning
// changed=false — the zero value for its return slot is never treated as
// an implicit no-op, since nil/zero can be a legitimate transformed value.
type Plugin struct {
	Name string

	OnInit         func(ctx context.Context) error
	OnScrape       func(ctx context.Context, request any) (value any, changed bool, err error)
	OnScrapeResult func(ctx context.Context, result any) (value any, changed bool, err error)
	OnSave         func(ctx context.Context, data any) (value any, changed bool, err error)
	OnCleanup      func(ctx context.Context) error
}

// Chain holds an ordered list of plugins and drives the five hook points
// over them. Plugins execute in registration order; the teacher's HTTP
// middleware Chain composes handlers outside-in around a final handler,
// but a value-transform chain has no "final handler" to wrap — it folds
// left to right over the plugins instead, threading the current value
// through each one in turn.
type Chain struct {
	plugins []Plugin
}

// NewChain builds a Chain from plugins, preserving the given order.
func NewChain(plugins ...Plugin) *Chain {
	return &Chain{plugins: append([]Plugin(nil), plugins...)}
}

// RunInit calls every plugin's OnInit in order. A plugin error or panic is
// logged and does not prevent later plugins from running; RunInit itself
// never returns an error — init failures are not fatal to the chain.
func (c *Chain) RunInit(ctx context.Context) {
	for _, p := range c.plugins {
		if p.OnInit == nil {
			continue
		}
		c.guard(p.Name, "onInit", func() error {
			return p.OnInit(ctx)
		})
	}
}

// RunScrape folds request through every plugin's OnScrape, returning the
// final transformed value. A plugin that panics, errors, or declines to
// change the value leaves it untouched for the next plugin.
func (c *Chain) RunScrape(ctx context.Context, request any) any {
	value := request
	for _, p := range c.plugins {
		if p.OnScrape == nil {
			continue
		}
		value = c.runTransform(p.Name, "onScrape", value, func(v any) (any, bool, error) {
			return p.OnScrape(ctx, v)
		})
	}
	return value
}

// RunScrapeResult folds result through every plugin's OnScrapeResult.
func (c *Chain) RunScrapeResult(ctx context.Context, result any) any {
	value := result
	for _, p := range c.plugins {
		if p.OnScrapeResult == nil {
			continue
		}
		value = c.runTransform(p.Name, "onScrapeResult", value, func(v any) (any, bool, error) {
			return p.OnScrapeResult(ctx, v)
		})
	}
	return value
}

// RunSave folds data through every plugin's OnSave.
func (c *Chain) RunSave(ctx context.Context, data any) any {
	value := data
	for _, p := range c.plugins {
		if p.OnSave == nil {
			continue
		}
		value = c.runTransform(p.Name, "onSave", value, func(v any) (any, bool, error) {
			return p.OnSave(ctx, v)
		})
	}
	return value
}

// RunCleanup calls every plugin's OnCleanup in order, in registration
// order so earlier-registered plugins tear down first. Failures are
// logged and do not stop later plugins' cleanup from running.
func (c *Chain) RunCleanup(ctx context.Context) {
	for _, p := range c.plugins {
		if p.OnCleanup == nil {
			continue
		}
		c.guard(p.Name, "onCleanup", func() error {
			return p.OnCleanup(ctx)
		})
	}
}

// runTransform invokes fn(current), applying its result only when it both
// completes without panicking/erroring and reports changed=true;
// otherwise current is returned unmodified.
func (c *Chain) runTransform(name, point string, current any, fn func(any) (any, bool, error)) (result any) {
	result = current
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("plugin", name).
				Str("hook", point).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("hook panicked, preserving previous value")
			result = current
		}
	}()

	next, changed, err := fn(current)
	if err != nil {
		log.Warn().Str("plugin", name).Str("hook", point).Err(err).Msg("hook returned an error, preserving previous value")
		return current
	}
	if !changed {
		return current
	}
	return next
}

// guard runs fn, recovering from a panic and logging either outcome
// without propagating it to the caller.
func (c *Chain) guard(name, point string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("plugin", name).
				Str("hook", point).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("hook panicked")
		}
	}()
	if err := fn(); err != nil {
		log.Warn().Str("plugin", name).Str("hook", point).Err(err).Msg("hook returned an error")
	}
}

// Len reports how many plugins are registered.
func (c *Chain) Len() int { return len(c.plugins) }
