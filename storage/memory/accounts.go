// Package memory provides in-process implementations of the tokenauth
// account store and refresh registry. They enforce the same uniqueness rules
// as the database adapters and are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-tokenauth"
	"github.com/google/uuid"
)

// Accounts implements tokenauth.AccountStore.
type Accounts struct {
	mu         sync.RWMutex
	byID       map[string]*tokenauth.Account
	byUsername map[string]string
	byEmail    map[string]string
	byProvider map[string]string
}

var _ tokenauth.AccountStore = (*Accounts)(nil)

// NewAccounts returns an empty store.
func NewAccounts() *Accounts {
	return &Accounts{
		byID:       map[string]*tokenauth.Account{},
		byUsername: map[string]string{},
		byEmail:    map[string]string{},
		byProvider: map[string]string{},
	}
}

func providerKey(provider, externalID string) string {
	if provider == "" || externalID == "" {
		return ""
	}
	return provider + "\x00" + externalID
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *Accounts) get(id string, ok bool) *tokenauth.Account {
	if !ok {
		return nil
	}
	return s.byID[id].Clone()
}

func (s *Accounts) FindByID(ctx context.Context, id string) (*tokenauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return s.get(id, ok), nil
}

func (s *Accounts) FindByUsername(ctx context.Context, username string) (*tokenauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[usernameKey(username)]
	return s.get(id, ok), nil
}

func (s *Accounts) FindByEmail(ctx context.Context, email string) (*tokenauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[tokenauth.NormalizeEmail(email)]
	return s.get(id, ok), nil
}

func (s *Accounts) FindByProvider(ctx context.Context, provider, externalID string) (*tokenauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := providerKey(provider, externalID)
	if key == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProvider[key]
	return s.get(id, ok), nil
}

func (s *Accounts) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	account, err := s.FindByUsername(ctx, username)
	return account != nil, err
}

func (s *Accounts) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	account, err := s.FindByEmail(ctx, email)
	return account != nil, err
}

// Create stores a copy of account, assigning an id when missing.
func (s *Accounts) Create(ctx context.Context, account *tokenauth.Account) (*tokenauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record := account.Clone()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Email = tokenauth.NormalizeEmail(record.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[record.ID]; ok {
		return nil, tokenauth.ErrUniqueViolation
	}
	if err := s.checkUnique(record, ""); err != nil {
		return nil, err
	}

	s.index(record)
	return record.Clone(), nil
}

// Update replaces the stored account with the same id.
func (s *Accounts) Update(ctx context.Context, account *tokenauth.Account) (*tokenauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record := account.Clone()
	record.Email = tokenauth.NormalizeEmail(record.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[record.ID]
	if !ok {
		return nil, tokenauth.ErrAccountNotFound
	}
	if err := s.checkUnique(record, record.ID); err != nil {
		return nil, err
	}

	s.unindex(current)
	s.index(record)
	return record.Clone(), nil
}

// List returns accounts ordered by lower-cased username.
func (s *Accounts) List(ctx context.Context, opts tokenauth.ListOptions) ([]*tokenauth.Account, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	opts = opts.Normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.byUsername))
	for key := range s.byUsername {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	total := len(keys)
	if opts.Offset >= total {
		return []*tokenauth.Account{}, total, nil
	}
	keys = keys[opts.Offset:min(total, opts.Offset+opts.Limit)]

	out := make([]*tokenauth.Account, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.byID[s.byUsername[key]].Clone())
	}
	return out, total, nil
}

// Len returns the number of stored accounts.
func (s *Accounts) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Accounts) checkUnique(record *tokenauth.Account, selfID string) error {
	taken := func(index map[string]string, key string) bool {
		id, ok := index[key]
		return ok && id != selfID
	}
	if taken(s.byUsername, usernameKey(record.Username)) ||
		taken(s.byEmail, record.Email) {
		return tokenauth.ErrUniqueViolation
	}
	if key := providerKey(record.FederatedProvider, record.FederatedExternalID); key != "" && taken(s.byProvider, key) {
		return tokenauth.ErrUniqueViolation
	}
	return nil
}

func (s *Accounts) index(record *tokenauth.Account) {
	s.byID[record.ID] = record
	s.byUsername[usernameKey(record.Username)] = record.ID
	s.byEmail[record.Email] = record.ID
	if key := providerKey(record.FederatedProvider, record.FederatedExternalID); key != "" {
		s.byProvider[key] = record.ID
	}
}

func (s *Accounts) unindex(record *tokenauth.Account) {
	delete(s.byUsername, usernameKey(record.Username))
	delete(s.byEmail, record.Email)
	if key := providerKey(record.FederatedProvider, record.FederatedExternalID); key != "" {
		delete(s.byProvider, key)
	}
}
