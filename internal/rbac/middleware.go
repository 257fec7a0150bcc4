package rbac

import (
	"net/http"

	"github.com/mind-engage/quizhub/internal/apperr"
)

var defaultChecker = NewChecker(nil)

// Require enforces a single permission.
func Require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p.IsZero() {
				apperr.Write(w, apperr.ErrUnauthorized)
				return
			}
			if !defaultChecker.Has(p.Role, perm) {
				apperr.Write(w, apperr.Forbidden("missing permission "+perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny enforces that the role has at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p.IsZero() {
				apperr.Write(w, apperr.ErrUnauthorized)
				return
			}
			if !defaultChecker.Any(p.Role, perms...) {
				apperr.Write(w, apperr.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
