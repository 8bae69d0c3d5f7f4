// Package bearer is a go-router middleware that runs every request through a
// tokenauth.Gate and stops it unless the gate allows it.
package bearer

import (
	"net/http"

	"github.com/goliatone/go-router"
	"github.com/goliatone/go-tokenauth"
)

// DefaultContextKey is the router Locals key of the request AuthContext.
const DefaultContextKey = "auth"

// Config for the bearer middleware.
type Config struct {
	// Filter skips the middleware when it returns true.
	Filter func(router.Context) bool
	// SuccessHandler runs for allowed requests. Default: ctx.Next().
	SuccessHandler router.HandlerFunc
	// ErrorHandler runs for rejected and forbidden requests.
	// Default: DefaultErrorHandler.
	ErrorHandler func(router.Context, *tokenauth.AuthContext) error
	// Gate is required.
	Gate *tokenauth.Gate
	// ContextKey for router Locals. Default: "auth".
	ContextKey string
	// Logger receives a line per denied request.
	Logger tokenauth.Logger
}

// New returns the middleware. It panics when cfg.Gate is nil.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			ac := cfg.Gate.Evaluate(ctx.GetString(router.HeaderAuthorization, ""), ctx.Path())

			ctx.Locals(cfg.ContextKey, ac)
			ctx.SetContext(tokenauth.WithAuthContext(ctx.Context(), ac))

			if ac.State != tokenauth.StateAllowed {
				if cfg.Logger != nil {
					cfg.Logger.Debug("bearer denied request", "path", ctx.Path(), "state", ac.State.String(), "kind", tokenauth.KindOf(ac.Err))
				}
				return cfg.ErrorHandler(ctx, ac)
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

// GetDefaultConfig fills in defaults.
func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Gate == nil {
		panic("TOKENAUTH: bearer middleware configuration: Gate is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	return cfg
}

// DefaultErrorHandler answers 401 for rejected tokens and anonymous callers,
// 403 for authenticated callers lacking roles. Rejections never say why.
func DefaultErrorHandler(ctx router.Context, ac *tokenauth.AuthContext) error {
	if ac.State == tokenauth.StateRejected || !ac.Authenticated() {
		ctx.SetHeader("WWW-Authenticate", "Bearer")
		return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	detail := "forbidden"
	if ac.Decision != nil {
		detail = ac.Decision.Detail(false)
	}
	return ctx.JSON(http.StatusForbidden, map[string]string{"error": detail})
}

// FromContext returns the AuthContext stored by the middleware under key.
// An empty key uses DefaultContextKey.
func FromContext(ctx router.Context, key ...string) (*tokenauth.AuthContext, bool) {
	k := DefaultContextKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	ac, ok := ctx.Locals(k).(*tokenauth.AuthContext)
	return ac, ok && ac != nil
}

// RequireAuthenticated is a route level middleware that answers 401 unless
// the bearer middleware stored an authenticated AuthContext under key.
func RequireAuthenticated(key ...string) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			ac, ok := FromContext(ctx, key...)
			if !ok {
				ac = &tokenauth.AuthContext{State: tokenauth.StateRejected}
			}
			if !ac.Authenticated() {
				return DefaultErrorHandler(ctx, ac)
			}
			return next(ctx)
		}
	}
}
