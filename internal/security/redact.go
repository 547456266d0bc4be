package security

import (
	"net/url"
	"strings"
)

// RedactURL removes sensitive information from a URL for safe logging.
// It redacts:
// - User credentials (user:pass@host)
// - Query parameters that look like secrets
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		// If we can't parse it, redact aggressively
		return "[invalid-url]"
	}

	// Redact user credentials
	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}

	// Redact sensitive query parameters
	if parsed.RawQuery != "" {
		parsed.RawQuery = redactQueryParams(parsed.Query()).Encode()
	}

	return parsed.String()
}

// sensitiveParamPatterns are query parameter names that likely contain secrets
var sensitiveParamPatterns = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"auth",
	"authorization",
	"bearer",
	"credential",
	"key",
	"access_token",
	"refresh_token",
	"session",
	"sessionid",
	"sid",
	"private",
}

func redactQueryParams(params url.Values) url.Values {
	redacted := make(url.Values)

	for key, values := range params {
		keyLower := strings.ToLower(key)
		shouldRedact := false

		for _, pattern := range sensitiveParamPatterns {
			if strings.Contains(keyLower, pattern) {
				shouldRedact = true
				break
			}
		}

		if shouldRedact {
			redacted[key] = []string{"[REDACTED]"}
		} else {
			redacted[key] = values
		}
	}

	return redacted
}

// Redact is the pure sanitisation function applied at the logging boundary:
// it never touches core state, it only transforms a string for display.
// Each pattern is matched case-insensitively as a substring of value; a
// match replaces the whole value with "[REDACTED]" rather than attempting
// partial masking, since callers pass it whole log fields (a session name,
// an encryption key, a cookie value), not free text to scan.
func Redact(value string, patterns []string) string {
	lower := strings.ToLower(value)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return "[REDACTED]"
		}
	}
	return value
}
