package tokenauth

import (
	"context"
)

var authCtxKey = &contextKey{"auth"}

type contextKey struct {
	name string
}

// WithAuthContext stores the request AuthContext in ctx.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authCtxKey, ac)
}

// AuthContextFrom returns the AuthContext stored by WithAuthContext.
func AuthContextFrom(ctx context.Context) (*AuthContext, bool) {
	raw, ok := ctx.Value(authCtxKey).(*AuthContext)
	return raw, ok && raw != nil
}

// CurrentUsername returns the authenticated username in ctx, if any.
func CurrentUsername(ctx context.Context) (string, bool) {
	ac, ok := AuthContextFrom(ctx)
	if !ok || !ac.Authenticated() {
		return "", false
	}
	return ac.Username, true
}

// HasRole is a convenience check against the roles in ctx.
func HasRole(ctx context.Context, role string) bool {
	ac, ok := AuthContextFrom(ctx)
	if !ok {
		return false
	}
	return ac.CallerRoles().Has(role)
}
