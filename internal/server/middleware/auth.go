// Package middleware provides the HTTP middleware chain: authentication,
// request logging, and CORS.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type ctxKey int

const adminCtxKey ctxKey = iota

// WithAdmin marks the request context as admin-authenticated.
func WithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminCtxKey, true)
}

// IsAdmin reports whether the request authenticated with the admin key.
func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(adminCtxKey).(bool)
	return v
}

// Auth validates requests with a static key in the Authorization Bearer
// header or X-API-Key. Paths under /api/admin/ require the admin key; the
// admin key is also accepted on the public surface, marking the request
// context so handlers can grant owner-scoped operations. An empty apiKey
// disables authentication entirely; an empty adminKey disables the admin
// surface rather than leaving it open.
func Auth(apiKey, adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			isAdminPath := strings.HasPrefix(r.URL.Path, "/api/admin/")

			if apiKey == "" && !isAdminPath {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if isAdminPath {
				if adminKey == "" {
					writeUnauthorized(w, http.StatusForbidden, "admin API disabled")
					return
				}
				if subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) != 1 {
					writeUnauthorized(w, http.StatusUnauthorized, "invalid admin token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context())))
				return
			}

			if token == "" {
				writeUnauthorized(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			if adminKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) == 1 {
				next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context())))
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
