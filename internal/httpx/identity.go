package httpx

import (
	"net/http"
	"strings"

	"github.com/ariefcatur/go-surplus-food/internal/identity"
)

// Headers set by the upstream gateway after authentication.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
)

// withPrincipal trusts the gateway headers. Requests without a user id stay
// anonymous; requireRole rejects them where a caller is needed.
func withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		role := identity.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
		if role == "" {
			role = identity.RoleConsumer
		}
		if !role.Valid() {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: "unknown role"})
			return
		}
		p := identity.Principal{UserID: id, Role: role, Email: r.Header.Get(HeaderUserEmail)}
		next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
	})
}

// requireRole rejects anonymous callers and, when roles are given, callers
// holding none of them. Admins always pass.
func requireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := identity.FromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: "missing caller identity"})
				return
			}
			if len(roles) > 0 && !p.IsAdmin() && !hasRole(p.Role, roles) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "role not allowed"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(r identity.Role, roles []identity.Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}

func principal(r *http.Request) identity.Principal {
	p, _ := identity.FromContext(r.Context())
	return p
}
