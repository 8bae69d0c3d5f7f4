package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Manager groups the repositories that share a database handle.
type Manager struct {
	db       *bun.DB
	accounts *AccountRepository
}

var (
	_ repository.Validator          = (*Manager)(nil)
	_ repository.TransactionManager = (*Manager)(nil)
)

// NewManager returns a Manager backed by db.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:       db,
		accounts: NewAccountRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}
	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// Migrate creates the tables this package needs.
func (m *Manager) Migrate(ctx context.Context) error {
	return CreateSchema(ctx, m.db)
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

// RunAccountsInTx calls f with an account repository bound to one transaction.
func (m *Manager) RunAccountsInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, accounts *AccountRepository) error) error {
	return m.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		return f(ctx, m.accounts.WithTx(tx))
	})
}

func (m *Manager) Accounts() *AccountRepository {
	return m.accounts
}
