package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// authenticate guards the V1 routes. The platform's HTTP route feature can
// be configured to send the token either as an X-Api-Key header or as a
// bearer token, so both are accepted.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := presentedToken(r)
		if !ok {
			renderError(w, r, http.StatusUnauthorized, "missing credentials")
			return
		}

		// Compare SHA-256 digests rather than the raw strings. The inputs
		// to ConstantTimeCompare are then always the same length, so the
		// comparison leaks nothing about the configured token.
		presented := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(presented[:], a.tokenHash[:]) != 1 {
			renderError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// presentedToken extracts the client token from the request. X-Api-Key
// takes precedence over the Authorization header; the Bearer prefix is
// matched case-insensitively and surrounding whitespace is ignored.
func presentedToken(r *http.Request) (string, bool) {
	if key := strings.TrimSpace(r.Header.Get("X-Api-Key")); key != "" {
		return key, true
	}

	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", false
	}

	const prefix = "bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		token := strings.TrimSpace(auth[len(prefix):])
		return token, token != ""
	}

	return "", false
}
