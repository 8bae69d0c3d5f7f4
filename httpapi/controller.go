// Package httpapi exposes the token endpoints over go-router as JSON.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-tokenauth"
	"github.com/goliatone/go-tokenauth/middleware/bearer"
)

type AuthControllerRoutes struct {
	Login      string
	Register   string
	Refresh    string
	Logout     string
	Callback   string
	Link       string
	Unlink     string
	Me         string
	AdminBase  string
	AdminUsers string
}

type AuthController struct {
	Logger        tokenauth.Logger
	Authenticator *tokenauth.Authenticator
	Tokens        *tokenauth.TokenService
	Resolver      *tokenauth.IdentityResolver
	Accounts      *tokenauth.AccountManager
	Routes        *AuthControllerRoutes
	ErrorHandler  router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithLogger(logger tokenauth.Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Logger = logger
		return a
	}
}

func WithAuthenticator(auther *tokenauth.Authenticator) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Authenticator = auther
		return a
	}
}

func WithTokenService(tokens *tokenauth.TokenService) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Tokens = tokens
		return a
	}
}

func WithResolver(resolver *tokenauth.IdentityResolver) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Resolver = resolver
		return a
	}
}

func WithAccountManager(accounts *tokenauth.AccountManager) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Accounts = accounts
		return a
	}
}

func WithErrorHandler(handler router.ErrorHandler) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.ErrorHandler = handler
		return a
	}
}

// NewAuthController panics when the authenticator or token service is missing.
func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		ErrorHandler: ErrorHandler,
		Routes: &AuthControllerRoutes{
			Login:      "/api/auth/login",
			Register:   "/api/auth/register",
			Refresh:    "/api/auth/refresh",
			Logout:     "/api/auth/logout",
			Callback:   "/oauth2/callback",
			Link:       "/oauth2/link",
			Unlink:     "/oauth2/unlink",
			Me:         "/api/me",
			AdminBase:  "/admin/accounts",
			AdminUsers: "/admin/users",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Authenticator == nil {
		panic("Missing Authenticator in auth controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenService in auth controller...")
	}

	return c
}

// RegisterRoutes mounts the controller. Federated and admin routes are only
// mounted when their collaborators are configured. The bearer middleware must
// run before these routes.
func RegisterRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	authenticated := bearer.RequireAuthenticated()

	app.Post(controller.Routes.Login, controller.Login).SetName("auth.login")
	app.Post(controller.Routes.Register, controller.Register).SetName("auth.register")
	app.Post(controller.Routes.Refresh, controller.Refresh).SetName("auth.refresh")
	app.Post(controller.Routes.Logout, controller.Logout).SetName("auth.logout")
	app.Get(controller.Routes.Me, controller.Me, authenticated).SetName("auth.me")

	if controller.Resolver != nil {
		app.Post(controller.Routes.Callback, controller.FederatedCallback).SetName("oauth2.callback")
		app.Post(controller.Routes.Link, controller.Link, authenticated).SetName("oauth2.link")
		app.Post(controller.Routes.Unlink, controller.Unlink, authenticated).SetName("oauth2.unlink")
	}

	if controller.Accounts != nil {
		app.Get(controller.Routes.AdminUsers, controller.ListUsers).SetName("admin.users.list")
		app.Get(controller.Routes.AdminUsers+"/:id", controller.GetUser).SetName("admin.users.get")
		app.Put(controller.Routes.AdminBase+"/:username/roles", controller.UpdateRoles).SetName("admin.roles")
		app.Post(controller.Routes.AdminBase+"/:username/disable", controller.Disable).SetName("admin.disable")
		app.Post(controller.Routes.AdminBase+"/:username/enable", controller.Enable).SetName("admin.enable")
	}

	return controller
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshRequest payload, used by refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// RolesRequest payload
type RolesRequest struct {
	Roles []string `json:"roles"`
}

func (r RolesRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Roles, validation.Required),
	)
}

// LinkRequest carries the provider verified identity plus the caller's email
// and current password.
type LinkRequest struct {
	Provider     string `json:"provider"`
	ExternalID   string `json:"external_id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name,omitempty"`
	ConfirmEmail string `json:"confirm_email"`
	Password     string `json:"password"`
}

func (r LinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ConfirmEmail, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (r LinkRequest) Identity() tokenauth.FederatedIdentity {
	return tokenauth.FederatedIdentity{
		Provider:    r.Provider,
		ExternalID:  r.ExternalID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
	}
}

// RegisterResponse is returned by Register.
type RegisterResponse struct {
	Account *tokenauth.Account   `json:"account"`
	Tokens  *tokenauth.TokenPair `json:"tokens"`
}

// ListResponse is returned by ListUsers.
type ListResponse struct {
	Accounts []*tokenauth.Account `json:"accounts"`
	Total    int                  `json:"total"`
	Limit    int                  `json:"limit"`
	Offset   int                  `json:"offset"`
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := a.bind(ctx, payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	pair, err := a.Authenticator.Login(ctx.Context(), payload.Identifier, payload.Password)
	if err != nil {
		a.logError("login failed", err)
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusOK, pair)
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(tokenauth.RegisterRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badRequest(err))
	}

	account, pair, err := a.Authenticator.Register(ctx.Context(), *payload)
	if err != nil {
		a.logError("register failed", err)
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, RegisterResponse{Account: account, Tokens: pair})
}

func (a *AuthController) Refresh(ctx router.Context) error {
	payload := new(RefreshRequest)
	if err := a.bind(ctx, payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	pair, err := a.Tokens.Refresh(ctx.Context(), payload.RefreshToken)
	if err != nil {
		a.logError("refresh failed", err)
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusOK, pair)
}

func (a *AuthController) Logout(ctx router.Context) error {
	payload := new(RefreshRequest)
	if err := a.bind(ctx, payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := a.Tokens.Revoke(ctx.Context(), payload.RefreshToken); err != nil {
		return a.ErrorHandler(ctx, err)
	}
	return ctx.Status(http.StatusNoContent).SendString("")
}

// FederatedCallback takes an identity the provider already verified, maps it
// to a local account and issues a pair.
func (a *AuthController) FederatedCallback(ctx router.Context) error {
	identity := new(tokenauth.FederatedIdentity)
	if err := ctx.Bind(identity); err != nil {
		return a.ErrorHandler(ctx, badRequest(err))
	}

	account, err := a.Resolver.ResolveFederated(ctx.Context(), *identity)
	if err != nil {
		a.logError("federated resolve failed", err)
		return a.ErrorHandler(ctx, err)
	}

	pair, err := a.Tokens.IssuePair(ctx.Context(), account)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusOK, pair)
}

// Link attaches a federated identity to the caller's account once the
// current password checks out.
func (a *AuthController) Link(ctx router.Context) error {
	ac, _ := bearer.FromContext(ctx)

	payload := new(LinkRequest)
	if err := a.bind(ctx, payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if _, err := a.Authenticator.VerifyPassword(ctx.Context(), ac.Username, payload.Password); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	account, err := a.Resolver.LinkAccount(ctx.Context(), ac.Username, payload.Identity(), payload.ConfirmEmail)
	if err != nil {
		a.logError("link failed", err)
		return a.adminError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, account)
}

// Unlink removes the federated link from the caller's account.
func (a *AuthController) Unlink(ctx router.Context) error {
	ac, _ := bearer.FromContext(ctx)

	account, err := a.Resolver.UnlinkAccount(ctx.Context(), ac.Username)
	if err != nil {
		a.logError("unlink failed", err)
		return a.adminError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, account)
}

func (a *AuthController) Me(ctx router.Context) error {
	ac, _ := bearer.FromContext(ctx)
	return ctx.JSON(http.StatusOK, map[string]any{
		"username":   ac.Username,
		"roles":      ac.Roles.Strings(),
		"expires_at": ac.ExpiresAt,
	})
}

func (a *AuthController) ListUsers(ctx router.Context) error {
	opts, err := listOptions(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	accounts, total, err := a.Accounts.List(ctx.Context(), opts)
	if err != nil {
		a.logError("list accounts failed", err)
		return a.ErrorHandler(ctx, err)
	}

	opts = opts.Normalized()
	return ctx.JSON(http.StatusOK, ListResponse{
		Accounts: accounts,
		Total:    total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

func (a *AuthController) GetUser(ctx router.Context) error {
	account, err := a.Accounts.Get(ctx.Context(), ctx.Param("id"))
	if err != nil {
		return a.adminError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, account)
}

func (a *AuthController) UpdateRoles(ctx router.Context) error {
	payload := new(RolesRequest)
	if err := a.bind(ctx, payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	account, err := a.Accounts.UpdateRoles(ctx.Context(), ctx.Param("username"), payload.Roles...)
	if err != nil {
		return a.adminError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, account)
}

func (a *AuthController) Disable(ctx router.Context) error {
	account, err := a.Accounts.Disable(ctx.Context(), ctx.Param("username"))
	if err != nil {
		return a.adminError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, account)
}

func (a *AuthController) Enable(ctx router.Context) error {
	account, err := a.Accounts.Enable(ctx.Context(), ctx.Param("username"))
	if err != nil {
		return a.adminError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, account)
}

// adminError maps unknown accounts to 404.
func (a *AuthController) adminError(ctx router.Context, err error) error {
	if tokenauth.IsKind(err, tokenauth.TextCodeAccountNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "account_not_found"})
	}
	return a.ErrorHandler(ctx, err)
}

type validatable interface {
	Validate() error
}

func (a *AuthController) bind(ctx router.Context, payload validatable) error {
	if err := ctx.Bind(payload); err != nil {
		return badRequest(err)
	}
	if err := payload.Validate(); err != nil {
		return badRequest(err)
	}
	return nil
}

func (a *AuthController) logError(msg string, err error) {
	if a.Logger == nil || tokenauth.IsUnauthorized(err) {
		return
	}
	a.Logger.Error(msg, "kind", tokenauth.KindOf(err), "error", err)
}

func listOptions(ctx router.Context) (tokenauth.ListOptions, error) {
	var opts tokenauth.ListOptions
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		raw := strings.TrimSpace(ctx.Query(name, ""))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, goerrors.New(name+" must be a non negative integer", goerrors.CategoryBadInput).
				WithTextCode(tokenauth.TextCodeInvalidInput).
				WithCode(goerrors.CodeBadRequest)
		}
		*dst = n
	}
	return opts, nil
}

func badRequest(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request").
		WithTextCode(tokenauth.TextCodeInvalidInput).
		WithCode(goerrors.CodeBadRequest)
}

// ErrorHandler collapses authentication failures into a bare 401 and renders
// the remaining go-errors with their code and text code.
func ErrorHandler(ctx router.Context, err error) error {
	if tokenauth.IsUnauthorized(err) {
		ctx.SetHeader("WWW-Authenticate", "Bearer")
		return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 && richErr.Code < http.StatusInternalServerError {
		body := map[string]string{
			"error":   strings.ToLower(richErr.TextCode),
			"message": richErr.Message,
		}
		if richErr.TextCode == "" {
			body["error"] = string(richErr.Category)
		}
		return ctx.JSON(richErr.Code, body)
	}

	return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "internal"})
}
