package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/mattjoyce/bridgeq/internal/httpserve"
)

// KeyHeader is accepted as an alternative to Authorization: Bearer.
const KeyHeader = "X-API-Key"

var (
	errNoCredentials = errors.New("missing API key")
	errBadScheme     = errors.New("authorization scheme must be Bearer")
)

// presentedKey returns the key a request carries.
func presentedKey(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, key, _ := strings.Cut(h, " ")
		if !strings.EqualFold(scheme, "Bearer") {
			return "", errBadScheme
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
		return "", errNoCredentials
	}
	if key := strings.TrimSpace(r.Header.Get(KeyHeader)); key != "" {
		return key, nil
	}
	return "", errNoCredentials
}

// keyMatches compares digests so neither the length nor the content of the
// configured key leaks through timing. An empty configured key never matches.
func keyMatches(presented, configured string) bool {
	if configured == "" {
		return false
	}
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// requireKey rejects requests that do not carry the configured key.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := presentedKey(r)
		if err != nil {
			httpserve.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !keyMatches(key, s.config.APIKey) {
			s.logger.Warn("rejected API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			httpserve.WriteError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
