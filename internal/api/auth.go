// Package api serves the query surface: patterns, scores, risk rollups,
// executions, and event ingest over HTTP with API-key authentication.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuth authenticates requests with keys of the form "<id>.<secret>"
// sent in the X-API-Key header. Only bcrypt hashes of secrets are held in
// memory; a lost config file does not leak usable credentials.
type APIKeyAuth struct {
	// hashes maps key ID to the bcrypt hash of the key secret.
	hashes map[string][]byte
}

// NewAPIKeyAuth creates an authenticator from key ID to bcrypt hash pairs.
func NewAPIKeyAuth(hashes map[string]string) *APIKeyAuth {
	m := make(map[string][]byte, len(hashes))
	for id, hash := range hashes {
		m[id] = []byte(hash)
	}
	return &APIKeyAuth{hashes: m}
}

// Enabled reports whether any keys are configured. With no keys the
// middleware passes everything through, for local development.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.hashes) > 0
}

// Authenticate checks one presented key and returns the key ID on success.
func (a *APIKeyAuth) Authenticate(presented string) (string, bool) {
	id, secret, found := strings.Cut(presented, ".")
	if !found || id == "" || secret == "" {
		return "", false
	}
	hash, ok := a.hashes[id]
	if !ok {
		return "", false
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return "", false
	}
	return id, true
}

// Middleware wraps a handler with API-key authentication.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		keyID, ok := a.Authenticate(r.Header.Get("X-API-Key"))
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "invalid or missing API key",
				"code":  "unauthorized",
			})
			return
		}

		slog.Debug("authenticated request", "key_id", keyID, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
