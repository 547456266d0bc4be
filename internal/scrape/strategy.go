package scrape

import (
	"context"
	"fmt"
	"sort"
)

// Strategy handles one or more Kinds of Request. CanHandle is the
// predicate spec.md §9 asks for; Priority breaks ties when more than one
// registered strategy claims the same Kind (higher runs first).
type Strategy interface {
	Name() string
	CanHandle(k Kind) bool
	Priority() int
	Execute(ctx context.Context, req Request) (Result, error)
}

// Table holds strategies in priority order and dispatches a Request to
// the first one that claims its Kind. Unlike the source's dynamic
// dispatch, every Strategy here is constructed with its dependencies
// already injected — Table never instantiates one lazily.
type Table struct {
	strategies []Strategy
}

// NewTable builds a Table, sorting strategies by descending Priority
// (stable, so registration order breaks remaining ties).
func NewTable(strategies ...Strategy) *Table {
	ordered := append([]Strategy(nil), strategies...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	return &Table{strategies: ordered}
}

// ErrNoStrategy is returned when no registered strategy claims a Kind.
type ErrNoStrategy struct{ Kind Kind }

func (e *ErrNoStrategy) Error() string {
	return fmt.Sprintf("scrape: no strategy registered for kind %q", e.Kind)
}

// Dispatch routes req to the first strategy (in priority order) whose
// CanHandle reports true for req.Kind.
func (t *Table) Dispatch(ctx context.Context, req Request) (Result, error) {
	for _, s := range t.strategies {
		if s.CanHandle(req.Kind) {
			return s.Execute(ctx, req)
		}
	}
	return Result{}, &ErrNoStrategy{Kind: req.Kind}
}
