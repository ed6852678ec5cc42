// ABOUTME: requireAPIKey middleware for the admin surface's Bearer token auth.
// ABOUTME: Adapted from the teacher's API-key check: single static key, no DB lookup.
package adminapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/scarson/poolmaster/internal/auth"
)

// requireAPIKey returns a middleware that requires "Authorization: Bearer
// <ADMIN_API_KEY>" when srv.apiKeyHash is set. There is no multi-tenant
// user model in this domain, so unlike the teacher's DB-backed
// LookupAPIKey this compares against one statically-configured hash.
func (srv *Server) requireAPIKey() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if srv.apiKeyHash == "" {
				next.ServeHTTP(w, r)
				return
			}
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			rawKey := strings.TrimPrefix(authHeader, "Bearer ")
			hash := auth.HashAPIKey(rawKey)
			if subtle.ConstantTimeCompare([]byte(hash), []byte(srv.apiKeyHash)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
