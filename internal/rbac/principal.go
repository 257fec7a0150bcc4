package rbac

import (
	"context"

	"github.com/mind-engage/quizhub/internal/apperr"
)

// Principal is the resolved caller identity. Services take it explicitly
// instead of reading it from ambient request state.
type Principal struct {
	ID    string
	Role  string
	Email string
	Name  string
}

func (p Principal) IsZero() bool { return p.ID == "" }

// IsStaff is true for instructors and admins.
func (p Principal) IsStaff() bool {
	return p.Role == RoleInstructor || p.Role == RoleAdmin
}

// Can reports whether the principal's role carries perm under the default policy.
func (p Principal) Can(perm string) bool {
	return defaultChecker.Has(p.Role, perm)
}

// RequireStaff fails with Unauthorized for an empty principal and Forbidden
// for anyone who is not an instructor or admin.
func RequireStaff(p Principal, action string) error {
	if p.IsZero() {
		return apperr.ErrUnauthorized
	}
	if !p.IsStaff() {
		return apperr.Forbidden("only instructors and admins can " + action)
	}
	return nil
}

// RequireSignedIn fails with Unauthorized for an empty principal.
func RequireSignedIn(p Principal) error {
	if p.IsZero() {
		return apperr.ErrUnauthorized
	}
	return nil
}

// ---- principal in context (HTTP layer only) ----

type ctxKey struct{}

var ctxKeyPrincipal = ctxKey{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func PrincipalFromContext(ctx context.Context) Principal {
	if v := ctx.Value(ctxKeyPrincipal); v != nil {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Principal{}
}
