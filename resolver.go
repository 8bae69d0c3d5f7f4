package tokenauth

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	resolveOutcomeExisting = "existing"
	resolveOutcomeLinked   = "linked"
	resolveOutcomeCreated  = "created"
	resolveOutcomeRaced    = "raced"
	resolveOutcomeFailed   = "failed"
)

// FederatedIdentity is what an external identity provider vouched for.
type FederatedIdentity struct {
	Provider    string `json:"provider"`
	ExternalID  string `json:"external_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Validate checks the identity attributes required for resolution.
func (f FederatedIdentity) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Provider, validation.Required),
		validation.Field(&f.ExternalID, validation.Required),
		validation.Field(&f.Email, validation.Required, is.Email),
	)
}

func (f FederatedIdentity) normalized() FederatedIdentity {
	f.Provider = strings.ToLower(strings.TrimSpace(f.Provider))
	f.ExternalID = strings.TrimSpace(f.ExternalID)
	f.Email = NormalizeEmail(f.Email)
	f.DisplayName = strings.TrimSpace(f.DisplayName)
	return f
}

// IdentityResolver maps federated identities onto local accounts.
type IdentityResolver struct {
	store        AccountStore
	defaultRoles RoleSet
	clock        Clock
	logger       Logger
	metrics      Metrics
}

// ResolverOption customizes an IdentityResolver.
type ResolverOption func(*IdentityResolver)

// WithDefaultRoles sets the roles of accounts created on first login. USER
// is always included.
func WithDefaultRoles(roles ...string) ResolverOption {
	return func(r *IdentityResolver) {
		r.defaultRoles = NewRoleSet(roles...).With(RoleUser)
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *IdentityResolver) {
		r.logger = resolveLogger(logger)
	}
}

// WithResolverMetrics sets the metrics sink.
func WithResolverMetrics(metrics Metrics) ResolverOption {
	return func(r *IdentityResolver) {
		r.metrics = resolveMetrics(metrics)
	}
}

// WithResolverClock overrides the time source used for timestamps.
func WithResolverClock(clock Clock) ResolverOption {
	return func(r *IdentityResolver) {
		r.clock = resolveClock(clock)
	}
}

// NewIdentityResolver returns a resolver backed by store.
func NewIdentityResolver(store AccountStore, opts ...ResolverOption) *IdentityResolver {
	r := &IdentityResolver{
		store:        store,
		defaultRoles: NewRoleSet(RoleUser),
		clock:        resolveClock(nil),
		logger:       defLogger{},
		metrics:      noopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ResolveFederated finds or creates the account for identity:
//  1. an account already linked to (provider, externalID) is returned as is
//  2. an account with the same email is linked and returned
//  3. otherwise a new account with the default roles is created
//
// When Create loses a race against a concurrent first login the lookups are
// retried once and the winner's account is returned.
func (r *IdentityResolver) ResolveFederated(ctx context.Context, identity FederatedIdentity) (*Account, error) {
	identity = identity.normalized()
	if err := identity.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid federated identity").
			WithTextCode(TextCodeInvalidInput).
			WithCode(goerrors.CodeBadRequest)
	}

	account, outcome, err := r.lookup(ctx, identity)
	if err != nil {
		r.metrics.FederatedResolved(resolveOutcomeFailed)
		return nil, err
	}
	if account != nil {
		r.metrics.FederatedResolved(outcome)
		return account, nil
	}

	created, err := r.create(ctx, identity)
	if err == nil {
		r.logger.Info("IdentityResolver created account", "provider", identity.Provider, "username", created.Username)
		r.metrics.FederatedResolved(resolveOutcomeCreated)
		return created, nil
	}
	if !goerrors.Is(err, ErrUniqueViolation) {
		r.metrics.FederatedResolved(resolveOutcomeFailed)
		return nil, err
	}

	r.logger.Debug("IdentityResolver create raced, retrying lookup", "provider", identity.Provider)
	account, _, err = r.lookup(ctx, identity)
	if err != nil {
		r.metrics.FederatedResolved(resolveOutcomeFailed)
		return nil, err
	}
	if account == nil {
		r.metrics.FederatedResolved(resolveOutcomeFailed)
		return nil, withDetail(ErrDuplicateIdentity, "create conflicted and no account was found", map[string]any{
			"provider": identity.Provider,
		})
	}
	r.metrics.FederatedResolved(resolveOutcomeRaced)
	return account, nil
}

func (r *IdentityResolver) lookup(ctx context.Context, identity FederatedIdentity) (*Account, string, error) {
	linked, err := r.store.FindByProvider(ctx, identity.Provider, identity.ExternalID)
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find account by provider")
	}
	if linked != nil {
		return linked, resolveOutcomeExisting, nil
	}

	byEmail, err := r.store.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find account by email")
	}
	if byEmail == nil {
		return nil, "", nil
	}

	if byEmail.IsFederated() {
		// keep the existing link; the verified email is enough to log in
		r.logger.Info("IdentityResolver email match already linked to another identity",
			"provider", identity.Provider, "linked_provider", byEmail.FederatedProvider)
		return byEmail, resolveOutcomeExisting, nil
	}

	linkedAccount, err := r.link(ctx, byEmail, identity)
	if err != nil {
		return nil, "", err
	}
	return linkedAccount, resolveOutcomeLinked, nil
}

func (r *IdentityResolver) link(ctx context.Context, account *Account, identity FederatedIdentity) (*Account, error) {
	updated := account.Clone()
	updated.FederatedProvider = identity.Provider
	updated.FederatedExternalID = identity.ExternalID
	if updated.DisplayName == "" {
		updated.DisplayName = identity.DisplayName
	}
	updated.UpdatedAt = r.clock()

	saved, err := r.store.Update(ctx, updated)
	if err != nil {
		if goerrors.Is(err, ErrUniqueViolation) {
			return nil, withDetail(ErrDuplicateIdentity, "identity is linked to another account", nil)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to link account")
	}
	return saved, nil
}

func (r *IdentityResolver) create(ctx context.Context, identity FederatedIdentity) (*Account, error) {
	username, err := r.deriveUsername(ctx, identity)
	if err != nil {
		return nil, err
	}

	now := r.clock()
	account := &Account{
		Username:            username,
		Email:               identity.Email,
		DisplayName:         identity.DisplayName,
		Roles:               NewRoleSet(r.defaultRoles...),
		FederatedProvider:   identity.Provider,
		FederatedExternalID: identity.ExternalID,
		Enabled:             true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	return r.store.Create(ctx, account)
}

// deriveUsername prefers the email local part, then a provider qualified
// variant, then provider_externalID. The existence checks are advisory; the
// store's unique constraint is what settles races.
func (r *IdentityResolver) deriveUsername(ctx context.Context, identity FederatedIdentity) (string, error) {
	local := sanitizeUsername(strings.Split(identity.Email, "@")[0])
	candidates := []string{
		local,
		fmt.Sprintf("%s_%s", local, identity.Provider),
		sanitizeUsername(fmt.Sprintf("%s_%s", identity.Provider, identity.ExternalID)),
	}

	for _, candidate := range candidates {
		if candidate == "" || candidate == "_"+identity.Provider {
			continue
		}
		exists, err := r.store.ExistsByUsername(ctx, candidate)
		if err != nil {
			return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username")
		}
		if !exists {
			return candidate, nil
		}
	}
	return candidates[len(candidates)-1], nil
}

// LinkAccount attaches identity to the account of username. The email the
// provider verified must match both the email supplied by the caller and the
// account email.
func (r *IdentityResolver) LinkAccount(ctx context.Context, username string, identity FederatedIdentity, email string) (*Account, error) {
	identity = identity.normalized()
	if err := identity.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid federated identity").
			WithTextCode(TextCodeInvalidInput).
			WithCode(goerrors.CodeBadRequest)
	}

	account, err := r.store.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find account")
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	email = NormalizeEmail(email)
	if identity.Email != email || NormalizeEmail(account.Email) != email {
		r.logger.Warn("IdentityResolver link rejected, email mismatch", "provider", identity.Provider, "username", account.Username)
		return nil, ErrEmailMismatch
	}

	if account.LinkedTo(identity.Provider, identity.ExternalID) {
		return account, nil
	}
	if account.IsFederated() {
		return nil, withDetail(ErrDuplicateIdentity, "account is linked to another identity", map[string]any{
			"linked_provider": account.FederatedProvider,
		})
	}

	owner, err := r.store.FindByProvider(ctx, identity.Provider, identity.ExternalID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find account by provider")
	}
	if owner != nil {
		return nil, withDetail(ErrDuplicateIdentity, "identity is linked to another account", nil)
	}

	return r.link(ctx, account, identity)
}

// UnlinkAccount removes the federated link from the account of username. An
// account without a local credential keeps its link.
func (r *IdentityResolver) UnlinkAccount(ctx context.Context, username string) (*Account, error) {
	account, err := r.store.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find account")
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	if !account.IsFederated() {
		return account, nil
	}
	if !account.HasLocalCredential() {
		return nil, ErrLastAuthMethod
	}

	updated := account.Clone()
	updated.FederatedProvider = ""
	updated.FederatedExternalID = ""
	updated.UpdatedAt = r.clock()

	saved, err := r.store.Update(ctx, updated)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to unlink account")
	}
	return saved, nil
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
