package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminKeyHeader is accepted alongside "Authorization: Bearer <key>".
const AdminKeyHeader = "X-Admin-Key"

// Auth guards operator endpoints with a static key. An empty key rejects
// every request, so an unconfigured admin key never opens the route.
func Auth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeJSONError(w, http.StatusForbidden, "admin endpoints disabled")
				return
			}
			token := adminToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing admin key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func adminToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(AdminKeyHeader))
}

// writeJSONError writes {"error": msg}. msg must not need escaping.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
