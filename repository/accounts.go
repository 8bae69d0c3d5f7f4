package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-tokenauth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountModel is the Bun model for accounts.
type AccountModel struct {
	bun.BaseModel `bun:"table:accounts"`

	ID                  uuid.UUID `bun:"id,pk,nullzero,type:uuid"`
	Username            string    `bun:"username,notnull"`
	Email               string    `bun:"email,notnull"`
	DisplayName         string    `bun:"display_name"`
	CredentialHash      string    `bun:"credential_hash"`
	Roles               string    `bun:"roles,notnull"`
	FederatedProvider   string    `bun:"federated_provider,nullzero"`
	FederatedExternalID string    `bun:"federated_external_id,nullzero"`
	Enabled             bool      `bun:"enabled,notnull"`
	Locked              bool      `bun:"locked,notnull"`
	CredentialsExpired  bool      `bun:"credentials_expired,notnull"`
	CreatedAt           time.Time `bun:"created_at,notnull"`
	UpdatedAt           time.Time `bun:"updated_at,notnull"`
}

// Schema creates the accounts table and its unique indexes. Rows without a
// federated link store NULL in both federated columns, so they never collide.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
    id TEXT NOT NULL PRIMARY KEY,
    username TEXT NOT NULL,
    email TEXT NOT NULL,
    display_name TEXT,
    credential_hash TEXT,
    roles TEXT NOT NULL DEFAULT '',
    federated_provider TEXT,
    federated_external_id TEXT,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    locked BOOLEAN NOT NULL DEFAULT FALSE,
    credentials_expired BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_accounts_username ON accounts (username);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_accounts_email ON accounts (email);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_accounts_federated ON accounts (federated_provider, federated_external_id);`,
}

// CreateSchema runs Schema against db.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// AccountRepository implements tokenauth.AccountStore on a go-repository-bun
// repository. Usernames are stored lower-cased and emails normalized so the
// unique indexes match the lookup rules.
type AccountRepository struct {
	repo repository.Repository[*AccountModel]
	db   bun.IDB
}

var _ tokenauth.AccountStore = (*AccountRepository)(nil)

// NewAccountsModelRepository returns the generic repository for AccountModel.
func NewAccountsModelRepository(db *bun.DB) repository.Repository[*AccountModel] {
	return repository.NewRepository[*AccountModel](db, repository.ModelHandlers[*AccountModel]{
		NewRecord: func() *AccountModel { return &AccountModel{} },
		GetID: func(m *AccountModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *AccountModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})
}

// NewAccountRepository creates a new repository.
func NewAccountRepository(db *bun.DB) *AccountRepository {
	return &AccountRepository{
		repo: NewAccountsModelRepository(db),
		db:   db,
	}
}

// WithTx returns a repository bound to tx.
func (r *AccountRepository) WithTx(tx bun.IDB) *AccountRepository {
	return &AccountRepository{repo: r.repo, db: tx}
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*tokenauth.Account, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, nil
	}
	model, err := r.repo.GetByIDTx(ctx, r.db, parsed.String())
	return found(model, err)
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (*tokenauth.Account, error) {
	model, err := r.repo.GetTx(ctx, r.db, whereColumn("username", usernameKey(username)))
	return found(model, err)
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*tokenauth.Account, error) {
	model, err := r.repo.GetTx(ctx, r.db, whereColumn("email", tokenauth.NormalizeEmail(email)))
	return found(model, err)
}

func (r *AccountRepository) FindByProvider(ctx context.Context, provider, externalID string) (*tokenauth.Account, error) {
	provider = strings.TrimSpace(provider)
	externalID = strings.TrimSpace(externalID)
	if provider == "" || externalID == "" {
		return nil, nil
	}
	model, err := r.repo.GetTx(ctx, r.db,
		whereColumn("federated_provider", provider),
		whereColumn("federated_external_id", externalID),
	)
	return found(model, err)
}

func (r *AccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	n, err := r.repo.CountTx(ctx, r.db, whereColumn("username", usernameKey(username)))
	return n > 0, err
}

func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	n, err := r.repo.CountTx(ctx, r.db, whereColumn("email", tokenauth.NormalizeEmail(email)))
	return n > 0, err
}

// Create inserts account, assigning an id when missing.
func (r *AccountRepository) Create(ctx context.Context, account *tokenauth.Account) (*tokenauth.Account, error) {
	model, err := fromAccount(account)
	if err != nil {
		return nil, err
	}
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = model.CreatedAt
	}

	created, err := r.repo.CreateTx(ctx, r.db, model)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if created == nil {
		created = model
	}
	return toAccount(created), nil
}

// Update writes every column of account except created_at.
func (r *AccountRepository) Update(ctx context.Context, account *tokenauth.Account) (*tokenauth.Account, error) {
	model, err := fromAccount(account)
	if err != nil {
		return nil, err
	}
	if model.ID == uuid.Nil {
		return nil, tokenauth.ErrAccountNotFound
	}

	current, err := r.repo.GetByIDTx(ctx, r.db, model.ID.String())
	if err != nil {
		if isNotFound(err) {
			return nil, tokenauth.ErrAccountNotFound
		}
		return nil, err
	}
	model.CreatedAt = current.CreatedAt
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = time.Now().UTC()
	}

	if _, err := r.repo.UpdateTx(ctx, r.db, model, repository.UpdateByID(model.ID.String())); err != nil {
		return nil, mapWriteError(err)
	}
	return r.FindByID(ctx, model.ID.String())
}

// List returns a page of accounts ordered by username and the total count.
func (r *AccountRepository) List(ctx context.Context, opts tokenauth.ListOptions) ([]*tokenauth.Account, int, error) {
	opts = opts.Normalized()

	models, total, err := r.repo.ListTx(ctx, r.db, orderByUsername, paginate(opts.Limit, opts.Offset))
	if err != nil {
		if isNotFound(err) {
			return []*tokenauth.Account{}, 0, nil
		}
		return nil, 0, err
	}

	out := make([]*tokenauth.Account, 0, len(models))
	for _, m := range models {
		out = append(out, toAccount(m))
	}
	return out, total, nil
}

func whereColumn(column string, value any) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(column), value)
	}
}

var orderByUsername repository.SelectCriteria = func(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("?TableAlias.username ASC")
}

func paginate(limit, offset int) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Limit(limit).Offset(offset)
	}
}

// found maps the repository not found error to the (nil, nil) lookup result.
func found(model *AccountModel, err error) (*tokenauth.Account, error) {
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if model == nil {
		return nil, nil
	}
	return toAccount(model), nil
}

func isNotFound(err error) bool {
	return repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows)
}

// mapWriteError turns driver unique violations into tokenauth.ErrUniqueViolation.
// Drivers only expose this through their messages.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return tokenauth.ErrUniqueViolation
	}
	return err
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func toAccount(m *AccountModel) *tokenauth.Account {
	return &tokenauth.Account{
		ID:                  m.ID.String(),
		Username:            m.Username,
		Email:               m.Email,
		DisplayName:         m.DisplayName,
		CredentialHash:      m.CredentialHash,
		Roles:               tokenauth.NewRoleSet(strings.Split(m.Roles, ",")...),
		FederatedProvider:   m.FederatedProvider,
		FederatedExternalID: m.FederatedExternalID,
		Enabled:             m.Enabled,
		Locked:              m.Locked,
		CredentialsExpired:  m.CredentialsExpired,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func fromAccount(a *tokenauth.Account) (*AccountModel, error) {
	if a == nil {
		return nil, tokenauth.ErrInvalidInput
	}

	var id uuid.UUID
	if a.ID != "" {
		parsed, err := uuid.Parse(a.ID)
		if err != nil {
			return nil, tokenauth.ErrInvalidInput
		}
		id = parsed
	}

	return &AccountModel{
		ID:                  id,
		Username:            usernameKey(a.Username),
		Email:               tokenauth.NormalizeEmail(a.Email),
		DisplayName:         a.DisplayName,
		CredentialHash:      a.CredentialHash,
		Roles:               tokenauth.NewRoleSet(a.Roles...).String(),
		FederatedProvider:   a.FederatedProvider,
		FederatedExternalID: a.FederatedExternalID,
		Enabled:             a.Enabled,
		Locked:              a.Locked,
		CredentialsExpired:  a.CredentialsExpired,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}, nil
}
