package types

// SameSite mirrors the subset of cookie SameSite values the spec's data
// model names explicitly.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// Cookie is one entry in a Session's ordered cookie sequence.
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain,omitempty"`
	Path     string   `json:"path,omitempty"`
	Expires  int64    `json:"expires"` // epoch seconds; -1 = session cookie
	HTTPOnly bool     `json:"httpOnly,omitempty"`
	Secure   bool     `json:"secure,omitempty"`
	SameSite SameSite `json:"sameSite,omitempty"`
}

// SessionMetadata carries the timestamps and descriptive fields that
// govern a Session's lifecycle (expiry, freshness ordering for merges).
type SessionMetadata struct {
	Created     int64   `json:"created"`  // ms epoch
	LastUsed    int64   `json:"lastUsed"` // ms epoch
	Expires     *int64  `json:"expires,omitempty"`
	UserAgent   string  `json:"userAgent,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Session is a named capture of a browser authentication context: cookies
// plus both web storages plus lifecycle metadata. The zero value is not
// valid — Name must be non-empty after sanitisation and Metadata.Created
// must be ≤ Metadata.LastUsed, per the session store's invariants.
type Session struct {
	Name           string            `json:"name"`
	Cookies        []Cookie          `json:"cookies"`
	LocalStorage   map[string]string `json:"localStorage,omitempty"`
	SessionStorage map[string]string `json:"sessionStorage,omitempty"`
	Metadata       SessionMetadata   `json:"metadata"`
}

// Expired reports whether the session's expiry has passed, relative to
// nowMs (caller-supplied so callers can test deterministically).
func (s *Session) Expired(nowMs int64) bool {
	return s.Metadata.Expires != nil && nowMs > *s.Metadata.Expires
}

// Valid reports whether a loaded session passes the store's schema
// invariants: non-empty name, a cookie slice (possibly empty, but never
// nil after a successful parse), and created ≤ lastUsed.
func (s *Session) Valid() bool {
	if s == nil || s.Name == "" {
		return false
	}
	if s.Cookies == nil {
		return false
	}
	return s.Metadata.Created <= s.Metadata.LastUsed
}

// MergeStrategy selects how Session Store.Merge resolves collisions
// between a merge target and its sources.
type MergeStrategy string

const (
	// MergeKeepExisting: target values win on key collision; keys absent
	// from target but present in any source are added in source order.
	MergeKeepExisting MergeStrategy = "keep-existing"
	// MergePreferFresh: target + sources are combined, sorted by
	// metadata.lastUsed ascending, then applied in order — freshest wins.
	MergePreferFresh MergeStrategy = "prefer-fresh"
	// MergeAll (default): overlay target then sources in given order;
	// last writer wins.
	MergeAll MergeStrategy = "merge-all"
)
