package server

import (
	"context"
	"net/http"
	"strings"
)

// bearerPrefix is the exact byte sequence the Authorization header must
// start with: lowercase scheme, single trailing space. Any other casing
// or format is unauthorized.
const bearerPrefix = "bearer "

// contextKey is a private type for request context values.
type contextKey int

// prefixesKey carries the caller's allowed path prefixes from the auth
// middleware to the handlers.
const prefixesKey contextKey = iota

// requireAuth wraps a handler with the bearer-token check. On success the
// caller's allowed prefixes are stored as a request extension; on any
// failure the client gets a bare 401 with no hint which part failed.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		token, ok := strings.CutPrefix(header, bearerPrefix)
		if !ok || token == "" {
			writeError(w, s.logger, http.StatusUnauthorized, "unauthorized")
			return
		}

		prefixes, ok := s.pool.Lookup(token)
		if !ok {
			writeError(w, s.logger, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), prefixesKey, prefixes)
		next(w, r.WithContext(ctx))
	}
}

// allowedPrefixes retrieves the prefixes stored by requireAuth.
func allowedPrefixes(r *http.Request) []string {
	prefixes, _ := r.Context().Value(prefixesKey).([]string)
	return prefixes
}
