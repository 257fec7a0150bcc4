package auth

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/rbac"
)

// JWTMiddleware rejects requests without a valid bearer token and puts the
// token's principal in the request context.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				apperr.Write(w, apperr.ErrUnauthorized)
				return
			}
			c, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				config.Log(r.Context()).WithError(err).Debug("bad token")
				apperr.Write(w, apperr.ErrUnauthorized)
				return
			}
			p := c.Principal()
			log := config.Log(r.Context()).WithField("user_id", p.ID)
			ctx := config.WithLogger(rbac.WithPrincipal(r.Context(), p), log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AttachRoleFromDB replaces the token's role with the one stored for the
// user. Users not in the database yet keep a valid claimed role when
// allowClaimFallback is set and are treated as students otherwise.
func AttachRoleFromDB(db *sql.DB, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p := rbac.PrincipalFromContext(ctx)
			if p.IsZero() {
				next.ServeHTTP(w, r)
				return
			}

			var role string
			err := db.QueryRowContext(ctx, `SELECT role FROM users WHERE id=$1`, p.ID).Scan(&role)
			switch {
			case err == nil && rbac.ValidRole(role):
				p.Role = role
			case err == nil || errors.Is(err, sql.ErrNoRows):
				if !allowClaimFallback || !rbac.ValidRole(p.Role) {
					p.Role = rbac.RoleStudent
				}
			default:
				config.Log(ctx).WithError(err).Error("role lookup failed")
				if !allowClaimFallback {
					apperr.Write(w, apperr.Transient("role lookup", err))
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(rbac.WithPrincipal(ctx, p)))
		})
	}
}
