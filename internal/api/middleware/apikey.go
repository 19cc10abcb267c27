package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// publicPaths never require a key: health checks and the metrics scraper.
var publicPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/version": true,
	"/metrics": true,
}

// APIKeyAuth validates inbound API keys. With no keys configured every
// request passes. Otherwise every non-public request must carry one of the
// keys via:
//   - Authorization: Bearer <key>
//   - X-API-Key: <key>
//
// Keys are fixed at construction.
type APIKeyAuth struct {
	keys [][]byte
}

// NewAPIKeyAuth creates the middleware from the configured keys. Blank
// entries are ignored.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	auth := &APIKeyAuth{}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			auth.keys = append(auth.keys, []byte(key))
		}
	}
	return auth
}

// Enabled returns whether any key is configured.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.keys) > 0
}

// Middleware returns an http.Handler middleware that enforces API key auth.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			respondUnauthorized(w, "API key required. Set Authorization: Bearer <key> or X-API-Key header.")
			return
		}
		if !a.validateKey(apiKey) {
			respondUnauthorized(w, "Invalid API key.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateKey compares against every key in constant time.
func (a *APIKeyAuth) validateKey(candidate string) bool {
	c := []byte(candidate)
	match := 0
	for _, key := range a.keys {
		match |= subtle.ConstantTimeCompare(c, key)
	}
	return match == 1
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="vahan-rakshak"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
