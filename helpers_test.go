package tokenauth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-tokenauth"
	"github.com/goliatone/go-tokenauth/storage/memory"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// whole seconds, tokens carry second precision
var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockLogger implements tokenauth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

func quietLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("Debug", mock.Anything, mock.Anything).Maybe()
	logger.On("Info", mock.Anything, mock.Anything).Maybe()
	logger.On("Warn", mock.Anything, mock.Anything).Maybe()
	logger.On("Error", mock.Anything, mock.Anything).Maybe()
	return logger
}

func testConfig() tokenauth.Config {
	cfg := tokenauth.DefaultConfig()
	cfg.SigningSecret = testSecret
	return cfg
}

type fixture struct {
	clock    *testClock
	accounts *memory.Accounts
	registry *memory.RefreshRegistry
	tokens   *tokenauth.TokenService
	verifier *tokenauth.BcryptVerifier
}

func newFixture(t *testing.T, opts ...tokenauth.TokenServiceOption) *fixture {
	t.Helper()

	clock := newTestClock()
	f := &fixture{
		clock:    clock,
		accounts: memory.NewAccounts(),
		registry: memory.NewRefreshRegistry().WithClock(clock.Now),
		verifier: &tokenauth.BcryptVerifier{Cost: bcrypt.MinCost},
	}

	opts = append([]tokenauth.TokenServiceOption{
		tokenauth.WithClock(clock.Now),
		tokenauth.WithLogger(quietLogger()),
	}, opts...)

	tokens, err := tokenauth.NewTokenService(testConfig(), f.accounts, f.registry, opts...)
	require.NoError(t, err)
	f.tokens = tokens
	return f
}

func (f *fixture) addAccount(t *testing.T, username string, roles ...string) *tokenauth.Account {
	t.Helper()

	hash, err := f.verifier.Hash("password123")
	require.NoError(t, err)

	account, err := f.accounts.Create(context.Background(), &tokenauth.Account{
		Username:       username,
		Email:          username + "@example.com",
		CredentialHash: hash,
		Roles:          tokenauth.NewRoleSet(roles...),
		Enabled:        true,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	})
	require.NoError(t, err)
	return account
}

func bearer(token string) string {
	return "Bearer " + token
}

// MockAccountStore implements tokenauth.AccountStore for testing
type MockAccountStore struct {
	mock.Mock
}

func mockAccount(args mock.Arguments) (*tokenauth.Account, error) {
	a, _ := args.Get(0).(*tokenauth.Account)
	return a, args.Error(1)
}

func (m *MockAccountStore) FindByID(ctx context.Context, id string) (*tokenauth.Account, error) {
	return mockAccount(m.Called(ctx, id))
}

func (m *MockAccountStore) FindByUsername(ctx context.Context, username string) (*tokenauth.Account, error) {
	return mockAccount(m.Called(ctx, username))
}

func (m *MockAccountStore) FindByEmail(ctx context.Context, email string) (*tokenauth.Account, error) {
	return mockAccount(m.Called(ctx, email))
}

func (m *MockAccountStore) FindByProvider(ctx context.Context, provider, externalID string) (*tokenauth.Account, error) {
	return mockAccount(m.Called(ctx, provider, externalID))
}

func (m *MockAccountStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountStore) Create(ctx context.Context, a *tokenauth.Account) (*tokenauth.Account, error) {
	return mockAccount(m.Called(ctx, a))
}

func (m *MockAccountStore) Update(ctx context.Context, a *tokenauth.Account) (*tokenauth.Account, error) {
	return mockAccount(m.Called(ctx, a))
}

func (m *MockAccountStore) List(ctx context.Context, opts tokenauth.ListOptions) ([]*tokenauth.Account, int, error) {
	args := m.Called(ctx, opts)
	accounts, _ := args.Get(0).([]*tokenauth.Account)
	return accounts, args.Int(1), args.Error(2)
}
