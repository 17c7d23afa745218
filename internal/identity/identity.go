// Package identity resolves the acting user for a request. There is no
// account system; callers identify themselves with a header and everyone
// else shares the anonymous identity.
package identity

import (
	"net/http"
	"strings"
)

// Header carries the caller-asserted user ID.
const Header = "X-User-ID"

// Anonymous is the fallback identity for requests without a usable ID.
const Anonymous = "anon"

// maxIDLength bounds user IDs before they become namespace components.
const maxIDLength = 48

// Resolver extracts user identities from requests.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// UserID returns the sanitized user ID from the request header, or
// Anonymous when the header is missing or sanitizes to nothing.
func (r *Resolver) UserID(req *http.Request) string {
	return Sanitize(req.Header.Get(Header))
}

// Sanitize folds a raw ID to lowercase [a-z0-9_-], trims it to a bounded
// length, and falls back to Anonymous when nothing usable remains.
func Sanitize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	id := b.String()
	if id == "" {
		return Anonymous
	}
	if len(id) > maxIDLength {
		id = id[:maxIDLength]
	}
	return id
}
