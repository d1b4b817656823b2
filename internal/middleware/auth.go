package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/util"
)

const tokenHeader = "X-Relay-Token"

// TokenAuthMiddleware admits requests carrying a shared secret, either as
// a bearer token or in the X-Relay-Token header. Only the hash of the
// secret is kept in memory.
type TokenAuthMiddleware struct {
	tokenHash   string
	openIfUnset bool
	area        string
}

// NewServiceAuthMiddleware guards the user API. Without a configured token
// every request is admitted.
func NewServiceAuthMiddleware(token string) *TokenAuthMiddleware {
	return newTokenAuthMiddleware(token, true, "service")
}

// NewAdminAuthMiddleware guards the admin API. Without a configured token
// every request is refused.
func NewAdminAuthMiddleware(token string) *TokenAuthMiddleware {
	return newTokenAuthMiddleware(token, false, "admin")
}

func newTokenAuthMiddleware(token string, openIfUnset bool, area string) *TokenAuthMiddleware {
	m := &TokenAuthMiddleware{openIfUnset: openIfUnset, area: area}
	if token != "" {
		m.tokenHash = util.HashToken(token)
	}
	return m
}

func (m *TokenAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			if m.openIfUnset {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusForbidden, "API disabled")
			return
		}

		token := extractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing token")
			return
		}
		if !util.ConstantTimeEqual(util.HashToken(token), m.tokenHash) {
			log.Warn().Str("area", m.area).Str("remoteAddr", r.RemoteAddr).Msg("auth: invalid token")
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(tokenHeader))
}
