package admin

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/auth"
)

// reviewerContextKey is the type for the authenticated reviewer key.
type reviewerContextKey struct{}

// reviewerFromContext returns the authenticated reviewer, or nil for
// localhost requests that bypassed key auth.
func reviewerFromContext(ctx context.Context) *auth.Reviewer {
	r, _ := ctx.Value(reviewerContextKey{}).(*auth.Reviewer)
	return r
}

// isLocalhost checks if the request originates from a loopback address.
// X-Forwarded-For is intentionally NOT trusted (an attacker could spoof
// it).
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// requireRole authenticates the request and enforces the given role.
//
// With no auth service configured, the surface is localhost-only and every
// localhost caller acts as an unnamed admin. With an auth service, a
// bearer API key is required from everywhere, localhost included, and the
// mapped reviewer must hold the role (admins hold every role implicitly).
func (h *Handler) requireRole(role auth.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.authService == nil {
			if isLocalhost(r) {
				next(w, r)
				return
			}
			h.respondError(w, http.StatusForbidden, "admin API requires localhost access")
			return
		}

		rawKey := bearerToken(r)
		if rawKey == "" {
			h.respondError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		reviewer, err := h.authService.Validate(r.Context(), rawKey)
		if err != nil {
			h.respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		if !reviewer.HasRole(role) && !reviewer.HasRole(auth.RoleAdmin) {
			h.respondError(w, http.StatusForbidden, "insufficient role")
			return
		}

		ctx := context.WithValue(r.Context(), reviewerContextKey{}, reviewer)
		next(w, r.WithContext(ctx))
	}
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}
