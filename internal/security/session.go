package security

import "strings"

// MaxSessionNameLength caps the sanitised name so it is always a legal
// filename component across the platforms the session store writes to.
const MaxSessionNameLength = 128

// SanitizeSessionName replaces every character outside [A-Za-z0-9_-] with
// "_", guarding the session store's on-disk path against directory
// traversal and reserved-character filenames. An empty or all-replaced
// result is not a concern of this function; callers check the result for
// emptiness themselves (see session.Store.Create).
func SanitizeSessionName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > MaxSessionNameLength {
		out = out[:MaxSessionNameLength]
	}
	return out
}
