package tokenauth

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// AccountManager performs administrative changes on accounts. Changes never
// touch already issued access tokens; they take effect on the next refresh.
type AccountManager struct {
	store  AccountStore
	clock  Clock
	logger Logger
}

// NewAccountManager returns an AccountManager.
func NewAccountManager(store AccountStore, logger Logger) *AccountManager {
	return &AccountManager{
		store:  store,
		clock:  resolveClock(nil),
		logger: resolveLogger(logger),
	}
}

// WithClock overrides the time source.
func (m *AccountManager) WithClock(clock Clock) *AccountManager {
	m.clock = resolveClock(clock)
	return m
}

// List returns a page of accounts and the total count.
func (m *AccountManager) List(ctx context.Context, opts ListOptions) ([]*Account, int, error) {
	accounts, total, err := m.store.List(ctx, opts.Normalized())
	if err != nil {
		return nil, 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list accounts")
	}
	return accounts, total, nil
}

// Get returns the account with id.
func (m *AccountManager) Get(ctx context.Context, id string) (*Account, error) {
	account, err := m.store.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find account")
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// UpdateRoles replaces the role set of username. Unknown roles are rejected
// and USER is always kept.
func (m *AccountManager) UpdateRoles(ctx context.Context, username string, roles ...string) (*Account, error) {
	set := NewRoleSet(roles...)
	for _, r := range set {
		if !IsKnownRole(r) {
			return nil, withDetail(ErrInvalidInput, "unknown role", map[string]any{"role": r})
		}
	}

	return m.mutate(ctx, username, func(a *Account) {
		a.Roles = set.With(RoleUser)
	})
}

// Disable soft-deletes an account; refreshes fail from now on.
func (m *AccountManager) Disable(ctx context.Context, username string) (*Account, error) {
	return m.mutate(ctx, username, func(a *Account) { a.Enabled = false })
}

// Enable reverts Disable.
func (m *AccountManager) Enable(ctx context.Context, username string) (*Account, error) {
	return m.mutate(ctx, username, func(a *Account) {
		a.Enabled = true
		a.Roles = a.Roles.With(RoleUser)
	})
}

// Lock blocks logins and refreshes without disabling the account.
func (m *AccountManager) Lock(ctx context.Context, username string) (*Account, error) {
	return m.mutate(ctx, username, func(a *Account) { a.Locked = true })
}

// Unlock reverts Lock.
func (m *AccountManager) Unlock(ctx context.Context, username string) (*Account, error) {
	return m.mutate(ctx, username, func(a *Account) { a.Locked = false })
}

// ExpireCredentials forces a password change before the next login.
func (m *AccountManager) ExpireCredentials(ctx context.Context, username string) (*Account, error) {
	return m.mutate(ctx, username, func(a *Account) { a.CredentialsExpired = true })
}

func (m *AccountManager) mutate(ctx context.Context, username string, fn func(*Account)) (*Account, error) {
	account, err := m.store.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find account")
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	updated := account.Clone()
	fn(updated)
	updated.UpdatedAt = m.clock()

	saved, err := m.store.Update(ctx, updated)
	if err != nil {
		m.logger.Error("AccountManager update failed", "username", account.Username, "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account")
	}
	return saved, nil
}
