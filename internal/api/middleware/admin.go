package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// AdminTokenHeader carries the admin secret.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth guards the admin surface with a single shared secret.
//
// A request must carry X-Admin-Token equal to the configured secret:
//   - no secret configured: 500, the admin surface is unusable
//   - header missing or wrong: 401, no data is returned
type AdminAuth struct {
	token string
}

// NewAdminAuth creates the middleware. An empty token leaves the admin
// surface unconfigured.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: strings.TrimSpace(token)}
}

// Configured reports whether an admin secret is set.
func (a *AdminAuth) Configured() bool { return a.token != "" }

// Middleware enforces the admin secret.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Configured() {
			log.Error().Str("path", r.URL.Path).Msg("Admin request rejected: ADMIN_TOKEN not configured")
			respondAuthError(w, http.StatusInternalServerError, "Admin token not configured")
			return
		}

		candidate := strings.TrimSpace(r.Header.Get(AdminTokenHeader))
		if candidate == "" || !a.validate(candidate) {
			log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("Admin request rejected: bad token")
			respondAuthError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) validate(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(a.token)) == 1
}

func respondAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": msg,
	})
}
