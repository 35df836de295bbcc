package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authExempt lists paths that never require authentication so that health
// probes and metrics scrapers work without credentials.
var authExempt = map[string]bool{
	"/api/health": true,
	"/metrics":    true,
}

// Auth returns middleware that checks every request for the configured API
// key, presented either as "Authorization: Bearer <key>" or in the X-API-Key
// header. An empty key disables the check entirely.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authExempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			presented := requestKey(r)
			if presented == "" {
				unauthorized(w, "missing API key")
				return
			}
			// Constant-time compare so the check leaks nothing about
			// how much of the key matched.
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				unauthorized(w, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(bearer)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="marketd"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
