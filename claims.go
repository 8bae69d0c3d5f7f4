package tokenauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of every token issued by this package.
type Claims struct {
	jwt.RegisteredClaims
	Type     TokenType `json:"typ"`
	Role     string    `json:"role,omitempty"`  // primary role, kept for single-role consumers
	Roles    []string  `json:"roles,omitempty"` // full role snapshot
	FamilyID string    `json:"fam,omitempty"`
}

// Username returns the subject claim.
func (c *Claims) Username() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the jti claim.
func (c *Claims) TokenID() string {
	return c.RegisteredClaims.ID
}

// RoleSet merges the roles and role claims. A token that only carries the
// single role claim yields a one-element set.
func (c *Claims) RoleSet() RoleSet {
	if c.Role == "" {
		return NewRoleSet(c.Roles...)
	}
	return NewRoleSet(append([]string{c.Role}, c.Roles...)...)
}

// Expires returns the expiration time.
func (c *Claims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// Issued returns the issued at time.
func (c *Claims) Issued() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// ExtractUsername projects the username out of already validated claims.
// It performs no signature or expiry checks.
func ExtractUsername(claims *Claims) string {
	if claims == nil {
		return ""
	}
	return claims.Username()
}

// ExtractRoles projects the role set out of already validated claims.
// It performs no signature or expiry checks.
func ExtractRoles(claims *Claims) RoleSet {
	if claims == nil {
		return nil
	}
	return claims.RoleSet()
}

func newClaims(account *Account, typ TokenType, issuer, familyID, tokenID string, issuedAt, expiresAt time.Time) *Claims {
	roles := NewRoleSet(account.Roles...)
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   account.Username,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type:     typ,
		Role:     roles.Primary(),
		Roles:    roles.Strings(),
		FamilyID: familyID,
	}
}
