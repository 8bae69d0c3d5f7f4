package tokenauth

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// BcryptVerifier implements CredentialVerifier with bcrypt.
type BcryptVerifier struct {
	Cost int
}

// NewBcryptVerifier uses the build's default cost.
func NewBcryptVerifier() *BcryptVerifier {
	return &BcryptVerifier{Cost: passwordHashCost()}
}

// Hash will generate a password hash
func (v *BcryptVerifier) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", withDetail(ErrInvalidInput, "password must not be empty", nil)
	}

	cost := v.Cost
	if cost == 0 {
		cost = passwordHashCost()
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	return string(h), err
}

// Verify will validate the given cleartext password matches the hash
func (v *BcryptVerifier) Verify(plaintext, hash string) bool {
	if plaintext == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// dummyHash is verified against when a login names an unknown account, so
// both paths cost one hash comparison.
func dummyHash(v CredentialVerifier) string {
	h, err := v.Hash(uuid.NewString())
	if err != nil {
		return ""
	}
	return h
}
