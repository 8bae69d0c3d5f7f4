package tokenauth_test

import (
	"context"
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-tokenauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockVerifier implements tokenauth.CredentialVerifier for testing
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Hash(plaintext string) (string, error) {
	args := m.Called(plaintext)
	return args.String(0), args.Error(1)
}

func (m *MockVerifier) Verify(plaintext, hash string) bool {
	args := m.Called(plaintext, hash)
	return args.Bool(0)
}

func TestAuthenticator_Login(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	authn := tokenauth.NewAuthenticator(f.accounts, f.verifier, f.tokens, quietLogger())
	f.addAccount(t, "alice", "USER")

	t.Run("by username", func(t *testing.T) {
		pair, err := authn.Login(ctx, "alice", "password123")
		require.NoError(t, err)

		claims, err := f.tokens.Validate(pair.AccessToken, tokenauth.TokenTypeAccess)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Username())
	})

	t.Run("by email", func(t *testing.T) {
		_, err := authn.Login(ctx, " ALICE@example.com ", "password123")
		assert.NoError(t, err)
	})

	t.Run("failures are indistinguishable", func(t *testing.T) {
		for _, tc := range []struct{ identifier, password string }{
			{"alice", "wrong-password"},
			{"nobody", "password123"},
			{"nobody@example.com", "password123"},
			{"", ""},
		} {
			_, err := authn.Login(ctx, tc.identifier, tc.password)
			assert.ErrorIs(t, err, tokenauth.ErrInvalidCredentials, tc.identifier)
		}
	})

	t.Run("federated only account", func(t *testing.T) {
		_, err := f.accounts.Create(ctx, &tokenauth.Account{
			Username:            "octo",
			Email:               "octo@example.com",
			FederatedProvider:   "github",
			FederatedExternalID: "1",
			Enabled:             true,
		})
		require.NoError(t, err)

		_, err = authn.Login(ctx, "octo", "")
		assert.ErrorIs(t, err, tokenauth.ErrInvalidCredentials)
	})

	t.Run("locked account", func(t *testing.T) {
		f.addAccount(t, "bob", "USER")
		_, err := tokenauth.NewAccountManager(f.accounts, quietLogger()).Lock(ctx, "bob")
		require.NoError(t, err)

		_, err = authn.Login(ctx, "bob", "password123")
		assert.ErrorIs(t, err, tokenauth.ErrAccountDisabled)
	})
}

func TestAuthenticator_LoginUnknownUserStillVerifies(t *testing.T) {
	f := newFixture(t)

	verifier := &MockVerifier{}
	verifier.On("Hash", mock.Anything).Return("dummy-hash", nil).Once()
	verifier.On("Verify", "secret", "dummy-hash").Return(false).Once()

	authn := tokenauth.NewAuthenticator(f.accounts, verifier, f.tokens, quietLogger())

	_, err := authn.Login(context.Background(), "nobody", "secret")
	assert.ErrorIs(t, err, tokenauth.ErrInvalidCredentials)
	verifier.AssertExpectations(t)
}

func TestAuthenticator_Register(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	authn := tokenauth.NewAuthenticator(f.accounts, f.verifier, f.tokens, quietLogger())

	account, pair, err := authn.Register(ctx, tokenauth.RegisterRequest{
		Username:    "alice",
		Email:       "Alice@Example.com",
		Password:    "password123",
		DisplayName: " Alice ",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.Equal(t, "Alice", account.DisplayName)
	assert.Equal(t, tokenauth.RoleSet{"USER"}, account.Roles)
	assert.NotEqual(t, "password123", account.CredentialHash)
	require.NotNil(t, pair)

	_, err = authn.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	t.Run("username taken", func(t *testing.T) {
		_, _, err := authn.Register(ctx, tokenauth.RegisterRequest{
			Username: "ALICE", Email: "other@example.com", Password: "password123",
		})
		assert.ErrorIs(t, err, tokenauth.ErrUsernameTaken)
	})

	t.Run("email taken", func(t *testing.T) {
		_, _, err := authn.Register(ctx, tokenauth.RegisterRequest{
			Username: "bob", Email: "alice@example.com", Password: "password123",
		})
		assert.ErrorIs(t, err, tokenauth.ErrEmailTaken)
	})

	t.Run("invalid payload", func(t *testing.T) {
		tests := []tokenauth.RegisterRequest{
			{Username: "ab", Email: "ab@example.com", Password: "password123"},
			{Username: "carol", Email: "carol", Password: "password123"},
			{Username: "carol", Email: "carol@example.com", Password: "short"},
		}
		for _, req := range tests {
			_, _, err := authn.Register(ctx, req)
			assert.True(t, tokenauth.IsKind(err, tokenauth.TextCodeInvalidInput), "%+v", req)
		}
	})
}

func TestAuthenticator_RegisterHashFailure(t *testing.T) {
	f := newFixture(t)

	verifier := &MockVerifier{}
	verifier.On("Hash", mock.Anything).Return("", errors.New("hasher down"))

	authn := tokenauth.NewAuthenticator(f.accounts, verifier, f.tokens, quietLogger())
	_, _, err := authn.Register(context.Background(), tokenauth.RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: "password123",
	})
	assert.Error(t, err)
	assert.Equal(t, 0, f.accounts.Len())
}

func TestAuthenticator_ChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	authn := tokenauth.NewAuthenticator(f.accounts, f.verifier, f.tokens, quietLogger())
	f.addAccount(t, "alice", "USER")

	_, err := tokenauth.NewAccountManager(f.accounts, quietLogger()).ExpireCredentials(ctx, "alice")
	require.NoError(t, err)

	_, err = authn.Login(ctx, "alice", "password123")
	require.ErrorIs(t, err, tokenauth.ErrAccountDisabled)

	err = authn.ChangePassword(ctx, "alice", "wrong-password", "new-password-1")
	assert.ErrorIs(t, err, tokenauth.ErrInvalidCredentials)

	err = authn.ChangePassword(ctx, "alice", "password123", "short")
	assert.True(t, tokenauth.IsKind(err, tokenauth.TextCodeInvalidInput))

	require.NoError(t, authn.ChangePassword(ctx, "alice", "password123", "new-password-1"))

	_, err = authn.Login(ctx, "alice", "password123")
	assert.ErrorIs(t, err, tokenauth.ErrInvalidCredentials)

	_, err = authn.Login(ctx, "alice", "new-password-1")
	assert.NoError(t, err)
}

func TestAuthenticator_RegisterRaceRechecksEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	none := (*tokenauth.Account)(nil)
	req := tokenauth.RegisterRequest{Username: "dana", Email: "dana@example.com", Password: "password123"}

	tests := []struct {
		name       string
		emailTaken bool
		want       error
	}{
		{"email claimed by the winner", true, tokenauth.ErrEmailTaken},
		{"username claimed by the winner", false, tokenauth.ErrUsernameTaken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockAccountStore{}
			store.On("ExistsByUsername", mock.Anything, "dana").Return(false, nil).Once()
			store.On("ExistsByEmail", mock.Anything, "dana@example.com").Return(false, nil).Once()
			store.On("Create", mock.Anything, mock.AnythingOfType("*tokenauth.Account")).Return(none, tokenauth.ErrUniqueViolation).Once()
			store.On("ExistsByEmail", mock.Anything, "dana@example.com").Return(tt.emailTaken, nil).Once()

			verifier := &MockVerifier{}
			verifier.On("Hash", mock.Anything).Return("hashed", nil)

			authn := tokenauth.NewAuthenticator(store, verifier, f.tokens, quietLogger())
			account, pair, err := authn.Register(ctx, req)
			assert.Nil(t, account)
			assert.Nil(t, pair)
			assert.ErrorIs(t, err, tt.want)
			store.AssertExpectations(t)
		})
	}
}

func TestAuthenticator_VerifyPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	authn := tokenauth.NewAuthenticator(f.accounts, f.verifier, f.tokens, quietLogger())
	alice := f.addAccount(t, "alice", "USER")

	_, err := f.accounts.Create(ctx, &tokenauth.Account{
		Username:            "octo",
		Email:               "octo@example.com",
		FederatedProvider:   "github",
		FederatedExternalID: "1001",
		Enabled:             true,
	})
	require.NoError(t, err)

	account, err := authn.VerifyPassword(ctx, " alice ", "password123")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, account.ID)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "password124"},
		{"unknown user", "ghost", "password123"},
		{"federated only", "octo", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, err := authn.VerifyPassword(ctx, tt.username, tt.password)
			assert.Nil(t, account)
			assert.ErrorIs(t, err, tokenauth.ErrInvalidCredentials)
		})
	}
}

func TestAuthenticator_ChangePasswordValidationIsBadRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	authn := tokenauth.NewAuthenticator(f.accounts, f.verifier, f.tokens, quietLogger())
	f.addAccount(t, "alice", "USER")

	err := authn.ChangePassword(ctx, "alice", "password123", "short")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CodeBadRequest, richErr.Code)
	assert.Equal(t, tokenauth.TextCodeInvalidInput, richErr.TextCode)
}
