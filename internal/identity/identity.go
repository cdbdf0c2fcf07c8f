// Package identity verifies that a declared origin is allow-listed and
// that the caller-supplied asset token matches the token bound to that
// origin. The binding is static configuration: loaded once per process,
// read-only, shared across all requests.
package identity

import (
	"net/url"
	"strings"

	"github.com/chattiavato/edge-relay/internal/sanitize"
)

// TokenHeader carries the opaque per-origin asset token.
const TokenHeader = "X-Ops-Asset-Id"

// Map binds an origin (scheme+host, case-normalized) to its asset token.
type Map map[string]string

// Result reports the outcome of a verification without ever exposing the
// expected token.
type Result struct {
	OK        bool
	Origin    string
	TokenSeen bool
}

// NormalizeOrigin lowercases and reduces an origin to scheme://host,
// dropping any path, query, or fragment. Returns "" for unusable input.
func NormalizeOrigin(origin string) string {
	s := strings.ToLower(strings.TrimSpace(origin))
	if s == "" || s == "null" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// NewMap normalizes the keys of a raw origin->token mapping.
func NewMap(raw map[string]string) Map {
	m := make(Map, len(raw))
	for origin, token := range raw {
		if norm := NormalizeOrigin(origin); norm != "" && token != "" {
			m[norm] = token
		}
	}
	return m
}

// Allowed reports whether the origin is on the allow-list. Used by
// preflight handling, which reflects the origin but skips token checks.
func (m Map) Allowed(origin string) bool {
	norm := NormalizeOrigin(origin)
	if norm == "" {
		return false
	}
	_, ok := m[norm]
	return ok
}

// Verify checks exact origin membership and exact token equality. No
// partial matches, no wildcards. A single flipped token character fails.
func (m Map) Verify(origin, token string) Result {
	got := sanitize.CleanText(token)
	res := Result{Origin: origin, TokenSeen: got != ""}

	norm := NormalizeOrigin(origin)
	if norm == "" {
		return res
	}
	expected, ok := m[norm]
	if !ok || expected == "" {
		return res
	}
	res.OK = got == expected
	return res
}
