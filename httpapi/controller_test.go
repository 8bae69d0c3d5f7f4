package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-tokenauth"
	"github.com/goliatone/go-tokenauth/httpapi"
	"github.com/goliatone/go-tokenauth/middleware/bearer"
	"github.com/goliatone/go-tokenauth/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type server struct {
	app    *fiber.App
	store  *memory.Accounts
	tokens *tokenauth.TokenService
}

func newServer(t *testing.T) *server {
	t.Helper()

	cfg := tokenauth.DefaultConfig()
	cfg.SigningSecret = "0123456789abcdef0123456789abcdef"

	store := memory.NewAccounts()
	tokens, err := tokenauth.NewTokenService(cfg, store, memory.NewRefreshRegistry())
	require.NoError(t, err)

	authorizer, err := tokenauth.NewAuthorizerFromConfig(cfg, tokenauth.DefaultRules())
	require.NoError(t, err)

	// fiber defaults to case-insensitive routing
	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return fiber.New(fiber.Config{DisableStartupMessage: true})
	})
	r := srv.Router()
	r.Use(bearer.New(bearer.Config{Gate: tokenauth.NewGate(tokens, authorizer, nil)}))

	httpapi.RegisterRoutes(r,
		httpapi.WithAuthenticator(tokenauth.NewAuthenticator(store, &tokenauth.BcryptVerifier{Cost: bcrypt.MinCost}, tokens, nil)),
		httpapi.WithTokenService(tokens),
		httpapi.WithResolver(tokenauth.NewIdentityResolver(store)),
		httpapi.WithAccountManager(tokenauth.NewAccountManager(store, nil)),
	)

	return &server{app: srv.WrappedRouter(), store: store, tokens: tokens}
}

func (s *server) call(t *testing.T, method, path, token string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decodePair(t *testing.T, raw []byte) tokenauth.TokenPair {
	t.Helper()
	var pair tokenauth.TokenPair
	require.NoError(t, json.Unmarshal(raw, &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

func TestRegisterLoginRefreshLogout(t *testing.T) {
	s := newServer(t)

	status, raw := s.call(t, fiber.MethodPost, "/api/auth/register", "", tokenauth.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct horse",
	})
	require.Equal(t, fiber.StatusCreated, status, string(raw))

	var registered httpapi.RegisterResponse
	require.NoError(t, json.Unmarshal(raw, &registered))
	assert.Equal(t, "alice", registered.Account.Username)
	assert.Equal(t, "Bearer", registered.Tokens.TokenType)

	status, raw = s.call(t, fiber.MethodPost, "/api/auth/login", "", httpapi.LoginRequest{
		Identifier: "alice@example.com",
		Password:   "correct horse",
	})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	pair := decodePair(t, raw)

	status, raw = s.call(t, fiber.MethodGet, "/api/me", pair.AccessToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	var me map[string]any
	require.NoError(t, json.Unmarshal(raw, &me))
	assert.Equal(t, "alice", me["username"])

	status, raw = s.call(t, fiber.MethodPost, "/api/auth/refresh", "", httpapi.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	refreshed := decodePair(t, raw)

	status, _ = s.call(t, fiber.MethodPost, "/api/auth/refresh", "", httpapi.RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = s.call(t, fiber.MethodPost, "/api/auth/refresh", "", httpapi.RefreshRequest{RefreshToken: refreshed.RefreshToken})
	assert.Equal(t, fiber.StatusUnauthorized, status, "family was revoked by the reuse")
}

func TestLogoutRevokesFamily(t *testing.T) {
	s := newServer(t)

	status, raw := s.call(t, fiber.MethodPost, "/api/auth/register", "", tokenauth.RegisterRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "password123",
	})
	require.Equal(t, fiber.StatusCreated, status, string(raw))
	var registered httpapi.RegisterResponse
	require.NoError(t, json.Unmarshal(raw, &registered))

	status, _ = s.call(t, fiber.MethodPost, "/api/auth/logout", "", httpapi.RefreshRequest{RefreshToken: registered.Tokens.RefreshToken})
	require.Equal(t, fiber.StatusNoContent, status)

	status, _ = s.call(t, fiber.MethodPost, "/api/auth/refresh", "", httpapi.RefreshRequest{RefreshToken: registered.Tokens.RefreshToken})
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	s := newServer(t)

	status, raw := s.call(t, fiber.MethodPost, "/api/auth/login", "", httpapi.LoginRequest{
		Identifier: "ghost",
		Password:   "whatever",
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.JSONEq(t, `{"error":"unauthorized"}`, string(raw))

	status, _ = s.call(t, fiber.MethodPost, "/api/auth/login", "", httpapi.LoginRequest{})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRegisterConflicts(t *testing.T) {
	s := newServer(t)

	req := tokenauth.RegisterRequest{Username: "carol", Email: "carol@example.com", Password: "password123"}
	status, _ := s.call(t, fiber.MethodPost, "/api/auth/register", "", req)
	require.Equal(t, fiber.StatusCreated, status)

	status, raw := s.call(t, fiber.MethodPost, "/api/auth/register", "", req)
	assert.Equal(t, fiber.StatusConflict, status)
	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "username_taken", body["error"])

	req.Username = "carol2"
	status, raw = s.call(t, fiber.MethodPost, "/api/auth/register", "", req)
	assert.Equal(t, fiber.StatusConflict, status)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "email_taken", body["error"])

	status, _ = s.call(t, fiber.MethodPost, "/api/auth/register", "", tokenauth.RegisterRequest{Username: "x", Email: "bad", Password: "short"})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestFederatedCallback(t *testing.T) {
	s := newServer(t)

	identity := tokenauth.FederatedIdentity{Provider: "github", ExternalID: "1001", Email: "octo@example.com"}

	status, raw := s.call(t, fiber.MethodPost, "/oauth2/callback", "", identity)
	require.Equal(t, fiber.StatusOK, status, string(raw))
	pair := decodePair(t, raw)

	claims, err := s.tokens.Validate(pair.AccessToken, tokenauth.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "octo", claims.Username())

	status, _ = s.call(t, fiber.MethodPost, "/oauth2/callback", "", identity)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 1, s.store.Len())
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	admin, err := s.store.Create(ctx, &tokenauth.Account{
		Username: "root", Email: "root@example.com", Roles: tokenauth.NewRoleSet("ADMIN", "USER"), Enabled: true,
	})
	require.NoError(t, err)
	user, err := s.store.Create(ctx, &tokenauth.Account{
		Username: "dave", Email: "dave@example.com", Roles: tokenauth.NewRoleSet("USER"), Enabled: true,
	})
	require.NoError(t, err)

	adminPair, err := s.tokens.IssuePair(ctx, admin)
	require.NoError(t, err)
	userPair, err := s.tokens.IssuePair(ctx, user)
	require.NoError(t, err)

	status, _ := s.call(t, fiber.MethodPut, "/admin/accounts/dave/roles", userPair.AccessToken, httpapi.RolesRequest{Roles: []string{"ADMIN"}})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, raw := s.call(t, fiber.MethodPut, "/admin/accounts/dave/roles", adminPair.AccessToken, httpapi.RolesRequest{Roles: []string{"MODERATOR"}})
	require.Equal(t, fiber.StatusOK, status, string(raw))

	var updated tokenauth.Account
	require.NoError(t, json.Unmarshal(raw, &updated))
	assert.Equal(t, tokenauth.RoleSet{"MODERATOR", "USER"}, updated.Roles)

	status, _ = s.call(t, fiber.MethodPut, "/admin/accounts/dave/roles", adminPair.AccessToken, httpapi.RolesRequest{Roles: []string{"ROOT"}})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = s.call(t, fiber.MethodPost, "/admin/accounts/dave/disable", adminPair.AccessToken, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _ = s.call(t, fiber.MethodPost, "/api/auth/refresh", "", httpapi.RefreshRequest{RefreshToken: userPair.RefreshToken})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = s.call(t, fiber.MethodPost, "/admin/accounts/ghost/disable", adminPair.AccessToken, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAdminRoutes_CaseVariantPathsStayProtected(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	user, err := s.store.Create(ctx, &tokenauth.Account{
		Username: "dave", Email: "dave@example.com", Roles: tokenauth.NewRoleSet("USER"), Enabled: true,
	})
	require.NoError(t, err)
	pair, err := s.tokens.IssuePair(ctx, user)
	require.NoError(t, err)

	for _, path := range []string{"/ADMIN/accounts/dave/roles", "/Admin/Accounts/dave/roles"} {
		t.Run(path, func(t *testing.T) {
			status, raw := s.call(t, fiber.MethodPut, path, pair.AccessToken, httpapi.RolesRequest{Roles: []string{"ADMIN"}})
			assert.Equal(t, fiber.StatusForbidden, status, string(raw))
		})
	}

	stored, err := s.store.FindByUsername(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, tokenauth.RoleSet{"USER"}, stored.Roles)

	status, _ := s.call(t, fiber.MethodGet, "/ADMIN/USERS", pair.AccessToken, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestFederatedCallback_InvalidIdentity(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name     string
		identity tokenauth.FederatedIdentity
	}{
		{"missing email", tokenauth.FederatedIdentity{Provider: "github", ExternalID: "1"}},
		{"bad email", tokenauth.FederatedIdentity{Provider: "github", ExternalID: "1", Email: "nope"}},
		{"missing external id", tokenauth.FederatedIdentity{Provider: "github", Email: "octo@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := s.call(t, fiber.MethodPost, "/oauth2/callback", "", tt.identity)
			assert.Equal(t, fiber.StatusBadRequest, status, string(raw))

			var body map[string]string
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, "invalid_input", body["error"])
		})
	}
	assert.Equal(t, 0, s.store.Len())
}

func registerAccount(t *testing.T, s *server, username, email, password string) tokenauth.TokenPair {
	t.Helper()
	status, raw := s.call(t, fiber.MethodPost, "/api/auth/register", "", tokenauth.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	require.Equal(t, fiber.StatusCreated, status, string(raw))
	var registered httpapi.RegisterResponse
	require.NoError(t, json.Unmarshal(raw, &registered))
	return *registered.Tokens
}

func TestLinkAndUnlink(t *testing.T) {
	s := newServer(t)
	pair := registerAccount(t, s, "erin", "erin@example.com", "password123")

	link := httpapi.LinkRequest{
		Provider:     "github",
		ExternalID:   "2002",
		Email:        "erin@example.com",
		ConfirmEmail: "erin@example.com",
		Password:     "password123",
	}

	t.Run("requires a token", func(t *testing.T) {
		status, raw := s.call(t, fiber.MethodPost, "/oauth2/link", "", link)
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.JSONEq(t, `{"error":"unauthorized"}`, string(raw))

		status, _ = s.call(t, fiber.MethodPost, "/oauth2/unlink", "", nil)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("wrong password", func(t *testing.T) {
		bad := link
		bad.Password = "not-the-password"
		status, raw := s.call(t, fiber.MethodPost, "/oauth2/link", pair.AccessToken, bad)
		assert.Equal(t, fiber.StatusUnauthorized, status, string(raw))

		stored, err := s.store.FindByUsername(context.Background(), "erin")
		require.NoError(t, err)
		assert.False(t, stored.IsFederated())
	})

	t.Run("email mismatch", func(t *testing.T) {
		bad := link
		bad.Email = "someone@example.com"
		status, raw := s.call(t, fiber.MethodPost, "/oauth2/link", pair.AccessToken, bad)
		assert.Equal(t, fiber.StatusForbidden, status, string(raw))

		var body map[string]string
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "email_mismatch", body["error"])
	})

	t.Run("missing password", func(t *testing.T) {
		bad := link
		bad.Password = ""
		status, _ := s.call(t, fiber.MethodPost, "/oauth2/link", pair.AccessToken, bad)
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	t.Run("links then callback logs in", func(t *testing.T) {
		status, raw := s.call(t, fiber.MethodPost, "/oauth2/link", pair.AccessToken, link)
		require.Equal(t, fiber.StatusOK, status, string(raw))

		var account tokenauth.Account
		require.NoError(t, json.Unmarshal(raw, &account))
		assert.Equal(t, "github", account.FederatedProvider)
		assert.Equal(t, "2002", account.FederatedExternalID)

		status, raw = s.call(t, fiber.MethodPost, "/oauth2/callback", "", link.Identity())
		require.Equal(t, fiber.StatusOK, status, string(raw))
		claims, err := s.tokens.Validate(decodePair(t, raw).AccessToken, tokenauth.TokenTypeAccess)
		require.NoError(t, err)
		assert.Equal(t, "erin", claims.Username())
		assert.Equal(t, 1, s.store.Len())
	})

	t.Run("unlink", func(t *testing.T) {
		status, raw := s.call(t, fiber.MethodPost, "/oauth2/unlink", pair.AccessToken, nil)
		require.Equal(t, fiber.StatusOK, status, string(raw))

		stored, err := s.store.FindByUsername(context.Background(), "erin")
		require.NoError(t, err)
		assert.False(t, stored.IsFederated())
	})
}

func TestAdminUsers(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	admin, err := s.store.Create(ctx, &tokenauth.Account{
		Username: "root", Email: "root@example.com", Roles: tokenauth.NewRoleSet("ADMIN", "USER"), Enabled: true,
	})
	require.NoError(t, err)
	adminPair, err := s.tokens.IssuePair(ctx, admin)
	require.NoError(t, err)

	for _, name := range []string{"frank", "grace", "heidi"} {
		_, err := s.store.Create(ctx, &tokenauth.Account{
			Username: name, Email: name + "@example.com", Roles: tokenauth.NewRoleSet("USER"), Enabled: true,
		})
		require.NoError(t, err)
	}

	t.Run("list paginates", func(t *testing.T) {
		status, raw := s.call(t, fiber.MethodGet, "/admin/users?limit=2&offset=1", adminPair.AccessToken, nil)
		require.Equal(t, fiber.StatusOK, status, string(raw))

		var page httpapi.ListResponse
		require.NoError(t, json.Unmarshal(raw, &page))
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, 2, page.Limit)
		assert.Equal(t, 1, page.Offset)
		require.Len(t, page.Accounts, 2)
		assert.Equal(t, "grace", page.Accounts[0].Username)
		assert.Equal(t, "heidi", page.Accounts[1].Username)
	})

	t.Run("list defaults", func(t *testing.T) {
		status, raw := s.call(t, fiber.MethodGet, "/admin/users", adminPair.AccessToken, nil)
		require.Equal(t, fiber.StatusOK, status, string(raw))

		var page httpapi.ListResponse
		require.NoError(t, json.Unmarshal(raw, &page))
		assert.Equal(t, tokenauth.DefaultListLimit, page.Limit)
		assert.Len(t, page.Accounts, 4)
	})

	t.Run("list rejects bad paging", func(t *testing.T) {
		for _, query := range []string{"limit=abc", "offset=-1"} {
			status, _ := s.call(t, fiber.MethodGet, "/admin/users?"+query, adminPair.AccessToken, nil)
			assert.Equal(t, fiber.StatusBadRequest, status, query)
		}
	})

	t.Run("get by id", func(t *testing.T) {
		grace, err := s.store.FindByUsername(ctx, "grace")
		require.NoError(t, err)

		status, raw := s.call(t, fiber.MethodGet, "/admin/users/"+grace.ID, adminPair.AccessToken, nil)
		require.Equal(t, fiber.StatusOK, status, string(raw))

		var account tokenauth.Account
		require.NoError(t, json.Unmarshal(raw, &account))
		assert.Equal(t, "grace", account.Username)
	})

	t.Run("get unknown id", func(t *testing.T) {
		status, _ := s.call(t, fiber.MethodGet, "/admin/users/missing", adminPair.AccessToken, nil)
		assert.Equal(t, fiber.StatusNotFound, status)
	})

	t.Run("user is forbidden", func(t *testing.T) {
		frank, err := s.store.FindByUsername(ctx, "frank")
		require.NoError(t, err)
		pair, err := s.tokens.IssuePair(ctx, frank)
		require.NoError(t, err)

		status, _ := s.call(t, fiber.MethodGet, "/admin/users", pair.AccessToken, nil)
		assert.Equal(t, fiber.StatusForbidden, status)
	})
}
