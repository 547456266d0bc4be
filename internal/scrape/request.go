// Package scrape implements the explicit tagged-variant strategy dispatch
// called for by spec.md §9's "Cyclic plugin graph / dynamic dispatch on
// request type" redesign flag: the source models scrape requests as a
// tagged union dispatched to strategies by a predicate; here that becomes
// an explicit Kind enum, a Strategy interface with a CanHandle predicate,
// and a priority-ordered Table that constructs no strategy lazily — every
// Strategy is built with its dependencies injected up front.
package scrape

// Kind tags a Request with the variant the source's tagged union encoded
// as a string discriminant.
type Kind string

const (
	KindProblem    Kind = "problem"
	KindList       Kind = "list"
	KindDiscussion Kind = "discussion"
	KindEditorial  Kind = "editorial"
)

// Request is the explicit tagged variant a Strategy acts on. Slug
// addresses a single problem/editorial/discussion; page/pageSize address
// a list. SessionName selects which browser pool serves the request.
type Request struct {
	Kind        Kind
	SessionName string
	Slug        string
	Page        int
	PageSize    int
}

// Result is the normalised outcome of a single scrape, prior to any
// out-of-scope HTML→Markdown conversion or writer persistence.
type Result struct {
	Kind  Kind   `json:"kind"`
	Slug  string `json:"slug,omitempty"`
	Title string `json:"title,omitempty"`
	// RawHTML is the as-fetched page content. Converting this into
	// portable Markdown is an out-of-scope external collaborator
	// (spec.md §1); this field is the seam a real Converter consumes.
	RawHTML string `json:"-"`
}
