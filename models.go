package tokenauth

import (
	"strings"
	"time"
)

// TokenType separates access tokens from refresh tokens.
type TokenType string

const (
	// TokenTypeAccess authenticates API requests
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh can only be redeemed for a new pair
	TokenTypeRefresh TokenType = "refresh"
)

// IsValid reports whether t is a known token type.
func (t TokenType) IsValid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// Account is a local identity.
type Account struct {
	ID                  string    `json:"id"`
	Username            string    `json:"username"`
	Email               string    `json:"email"`
	DisplayName         string    `json:"display_name,omitempty"`
	CredentialHash      string    `json:"-"`
	Roles               RoleSet   `json:"roles"`
	FederatedProvider   string    `json:"federated_provider,omitempty"`
	FederatedExternalID string    `json:"federated_external_id,omitempty"`
	Enabled             bool      `json:"enabled"`
	Locked              bool      `json:"locked"`
	CredentialsExpired  bool      `json:"credentials_expired"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// IsFederated reports whether the account is linked to an external identity.
func (a *Account) IsFederated() bool {
	return a.FederatedProvider != "" && a.FederatedExternalID != ""
}

// HasLocalCredential reports whether the account can log in with a password.
func (a *Account) HasLocalCredential() bool {
	return a.CredentialHash != ""
}

// LinkedTo reports whether the account is linked to provider/externalID.
func (a *Account) LinkedTo(provider, externalID string) bool {
	return a.FederatedProvider == provider && a.FederatedExternalID == externalID
}

// CheckActive returns ErrAccountDisabled when any status flag blocks
// authentication.
func (a *Account) CheckActive() error {
	switch {
	case a == nil:
		return ErrAccountNotFound
	case !a.Enabled:
		return withDetail(ErrAccountDisabled, "disabled", map[string]any{"reason": "disabled"})
	case a.Locked:
		return withDetail(ErrAccountDisabled, "locked", map[string]any{"reason": "locked"})
	case a.CredentialsExpired:
		return withDetail(ErrAccountDisabled, "credentials expired", map[string]any{"reason": "credentials_expired"})
	}
	return nil
}

// Clone returns a deep copy, so adapters never hand out shared role slices.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Roles = NewRoleSet(a.Roles...)
	return &c
}

// NormalizeEmail lowercases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TokenPair is the result of a login, registration, refresh or federated
// callback.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RefreshRecord tracks the active refresh token of a family.
type RefreshRecord struct {
	ID        string
	FamilyID  string
	Subject   string
	ExpiresAt time.Time
}
