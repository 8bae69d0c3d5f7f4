package tokenauth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// RegisterRequest holds the fields of a local registration.
type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// Validate checks the registration payload.
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 64)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
	)
}

// Authenticator handles local credential logins and registrations and hands
// out token pairs.
type Authenticator struct {
	store    AccountStore
	verifier CredentialVerifier
	tokens   *TokenService
	clock    Clock
	logger   Logger
	dummy    string
}

// NewAuthenticator returns an Authenticator. A nil verifier uses bcrypt.
func NewAuthenticator(store AccountStore, verifier CredentialVerifier, tokens *TokenService, logger Logger) *Authenticator {
	if verifier == nil {
		verifier = NewBcryptVerifier()
	}
	return &Authenticator{
		store:    store,
		verifier: verifier,
		tokens:   tokens,
		clock:    tokens.clock,
		logger:   resolveLogger(logger),
		dummy:    dummyHash(verifier),
	}
}

// Login verifies identifier (username or email) and password and issues a
// pair. Unknown accounts, federated-only accounts and wrong passwords all
// fail with ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	account, err := a.findByIdentifier(ctx, identifier)
	if err != nil {
		a.logger.Error("Login failed to load account", "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account during login")
	}

	if account == nil || !account.HasLocalCredential() {
		a.verifier.Verify(password, a.dummy)
		return nil, ErrInvalidCredentials
	}

	if !a.verifier.Verify(password, account.CredentialHash) {
		return nil, ErrInvalidCredentials
	}

	if err := account.CheckActive(); err != nil {
		a.logger.Warn("Login blocked due to account status", "username", account.Username, "error", err)
		return nil, err
	}

	return a.tokens.IssuePair(ctx, account)
}

// Register creates a local account with the USER role and issues a pair.
func (a *Authenticator) Register(ctx context.Context, req RegisterRequest) (*Account, *TokenPair, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = NormalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration").
			WithTextCode(TextCodeInvalidInput).
			WithCode(goerrors.CodeBadRequest)
	}

	if exists, err := a.store.ExistsByUsername(ctx, req.Username); err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username")
	} else if exists {
		return nil, nil, ErrUsernameTaken
	}

	if exists, err := a.store.ExistsByEmail(ctx, req.Email); err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email")
	} else if exists {
		return nil, nil, ErrEmailTaken
	}

	hash, err := a.verifier.Hash(req.Password)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := a.clock()
	account, err := a.store.Create(ctx, &Account{
		Username:       req.Username,
		Email:          req.Email,
		DisplayName:    strings.TrimSpace(req.DisplayName),
		CredentialHash: hash,
		Roles:          NewRoleSet(RoleUser),
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		if goerrors.Is(err, ErrUniqueViolation) {
			return nil, nil, a.conflictError(ctx, req.Email)
		}
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create account")
	}

	pair, err := a.tokens.IssuePair(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return account, pair, nil
}

// conflictError picks the error for a Create that lost a race: the email is
// checked again since the username check ran first.
func (a *Authenticator) conflictError(ctx context.Context, email string) error {
	exists, err := a.store.ExistsByEmail(ctx, email)
	if err != nil {
		a.logger.Error("Register failed to recheck email", "error", err)
		return ErrUsernameTaken
	}
	if exists {
		return ErrEmailTaken
	}
	return ErrUsernameTaken
}

// VerifyPassword checks password against the local credential of username.
// Unknown and federated-only accounts fail with ErrInvalidCredentials after
// the same hashing work as a real check.
func (a *Authenticator) VerifyPassword(ctx context.Context, username, password string) (*Account, error) {
	account, err := a.store.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find account")
	}
	if account == nil || !account.HasLocalCredential() {
		a.verifier.Verify(password, a.dummy)
		return nil, ErrInvalidCredentials
	}
	if !a.verifier.Verify(password, account.CredentialHash) {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// ChangePassword replaces the local credential after verifying the current one.
func (a *Authenticator) ChangePassword(ctx context.Context, username, current, next string) error {
	account, err := a.VerifyPassword(ctx, username, current)
	if err != nil {
		return err
	}
	if err := validation.Validate(next, validation.Required, validation.Length(8, 72)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password").
			WithTextCode(TextCodeInvalidInput).
			WithCode(goerrors.CodeBadRequest)
	}

	hash, err := a.verifier.Hash(next)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	updated := account.Clone()
	updated.CredentialHash = hash
	updated.CredentialsExpired = false
	updated.UpdatedAt = a.clock()
	if _, err := a.store.Update(ctx, updated); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}
	return nil
}

func (a *Authenticator) findByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}
	if strings.Contains(identifier, "@") {
		account, err := a.store.FindByEmail(ctx, NormalizeEmail(identifier))
		if err != nil || account != nil {
			return account, err
		}
	}
	return a.store.FindByUsername(ctx, identifier)
}
