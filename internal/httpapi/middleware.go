package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/valorence/relayctl/internal/auth"
)

type principalKey struct{}

type principal struct {
	subject string
	role    auth.Role
}

func roleAtLeast(have, want auth.Role) bool {
	if want == auth.RoleUser {
		return have == auth.RoleUser || have == auth.RoleAdmin
	}
	return have == auth.RoleAdmin
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

// authenticate resolves a request to a principal: either the internal
// shared-secret header (treated as admin, per §6) or a verified bearer
// token. It never checks a role requirement itself.
func (s *Server) authenticate(r *http.Request) (principal, bool) {
	if auth.IsSharedSecret(r.Header.Get("X-Internal-Secret"), s.internalSecret) {
		return principal{subject: "internal", role: auth.RoleAdmin}, true
	}
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return principal{}, false
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return principal{}, false
	}
	return principal{subject: claims.Subject, role: claims.Role}, true
}

// requireRole returns middleware that enforces a minimum role, writing a
// JSON {message} error body on failure per §7.
func (s *Server) requireRole(min auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := s.authenticate(r)
			if !ok {
				errorResponse(w, http.StatusUnauthorized, "missing or invalid credentials")
				return
			}
			if !roleAtLeast(p.role, min) {
				errorResponse(w, http.StatusForbidden, "insufficient role")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
