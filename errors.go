package tokenauth

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeTokenMalformed        = "TOKEN_MALFORMED"
	TextCodeTokenInvalidSignature = "TOKEN_INVALID_SIGNATURE"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeTokenWrongType        = "TOKEN_WRONG_TYPE"
	TextCodeTokenIssuerMismatch   = "TOKEN_ISSUER_MISMATCH"
	TextCodeTokenReused           = "TOKEN_REUSED"
	TextCodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	TextCodeAccountDisabled       = "ACCOUNT_DISABLED"
	TextCodeEmailMismatch         = "EMAIL_MISMATCH"
	TextCodeDuplicateIdentity     = "DUPLICATE_IDENTITY"
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeUniqueViolation       = "UNIQUE_VIOLATION"
	TextCodeUsernameTaken         = "USERNAME_TAKEN"
	TextCodeEmailTaken            = "EMAIL_TAKEN"
	TextCodeLastAuthMethod        = "LAST_AUTH_METHOD"
	TextCodeSigningSecretMissing  = "SIGNING_SECRET_MISSING"
	TextCodeInvalidConfig         = "INVALID_CONFIG"
	TextCodeInvalidInput          = "INVALID_INPUT"
)

// ErrTokenMalformed is returned for structurally invalid tokens: truncated,
// bad encoding, missing required claims or an unexpected signing algorithm.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalidSignature is returned when the token MAC does not verify.
var ErrTokenInvalidSignature = goerrors.New("token signature is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalidSignature).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token is presented at or after its exp.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenWrongType is returned when an access token is used where a refresh
// token is required, or the other way around.
var ErrTokenWrongType = goerrors.New("token type not accepted here", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenWrongType).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenIssuerMismatch is returned when iss differs from the configured issuer.
var ErrTokenIssuerMismatch = goerrors.New("token issuer mismatch", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenIssuerMismatch).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenReused is returned when a refresh token that was already rotated
// (or whose family was revoked) is presented again.
var ErrTokenReused = goerrors.New("refresh token is no longer active", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenReused).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountNotFound is returned when a token subject or username has no account.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAccountDisabled is returned for disabled, locked or credential-expired accounts.
var ErrAccountDisabled = goerrors.New("account is not active", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrEmailMismatch is returned when a manual link cannot prove email ownership.
var ErrEmailMismatch = goerrors.New("federated email does not match account", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailMismatch).
	WithCode(goerrors.CodeForbidden)

// ErrDuplicateIdentity is returned when an external identity cannot be
// attached to a single account.
var ErrDuplicateIdentity = goerrors.New("federated identity already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials is returned for every local login failure, unknown
// users included.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrUniqueViolation is returned by AccountStore.Create and Update when a
// unique field (username, email, federated pair) is already taken.
var ErrUniqueViolation = goerrors.New("unique constraint violation", goerrors.CategoryConflict).
	WithTextCode(TextCodeUniqueViolation).
	WithCode(goerrors.CodeConflict)

// ErrUsernameTaken is returned on registration with an existing username.
var ErrUsernameTaken = goerrors.New("username already exists", goerrors.CategoryValidation).
	WithTextCode(TextCodeUsernameTaken).
	WithCode(goerrors.CodeConflict)

// ErrEmailTaken is returned on registration with an existing email.
var ErrEmailTaken = goerrors.New("email already exists", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrLastAuthMethod is returned when unlinking would leave an account without
// any way to log in.
var ErrLastAuthMethod = goerrors.New("cannot unlink last authentication method", goerrors.CategoryValidation).
	WithTextCode(TextCodeLastAuthMethod).
	WithCode(goerrors.CodeBadRequest)

// ErrSigningSecretMissing is fatal at startup.
var ErrSigningSecretMissing = goerrors.New("signing secret is required", goerrors.CategoryInternal).
	WithTextCode(TextCodeSigningSecretMissing).
	WithCode(goerrors.CodeInternal)

// ErrInvalidConfig is returned by Config.Validate for unusable settings.
var ErrInvalidConfig = goerrors.New("invalid configuration", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidInput is returned when required arguments are missing or invalid.
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// unauthorizedCodes are collapsed by transports into a generic 401 so callers
// cannot tell a forged token from an unknown account.
var unauthorizedCodes = map[string]bool{
	TextCodeTokenMalformed:        true,
	TextCodeTokenInvalidSignature: true,
	TextCodeTokenExpired:          true,
	TextCodeTokenWrongType:        true,
	TextCodeTokenIssuerMismatch:   true,
	TextCodeTokenReused:           true,
	TextCodeAccountNotFound:       true,
	TextCodeAccountDisabled:       true,
	TextCodeInvalidCredentials:    true,
}

// KindOf returns the text code of the first rich error in the chain, or an
// empty string for plain errors.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode
	}
	return ""
}

// IsKind reports whether err carries the given text code.
func IsKind(err error, textCode string) bool {
	return err != nil && KindOf(err) == textCode
}

// IsUnauthorized reports whether err must be surfaced as a generic
// "unauthorized" response.
func IsUnauthorized(err error) bool {
	return unauthorizedCodes[KindOf(err)]
}

// withDetail clones a sentinel, keeping it reachable through errors.Is, and
// attaches metadata for logs.
func withDetail(sentinel *goerrors.Error, detail string, metadata map[string]any) error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	if detail != "" {
		clone.Message = fmt.Sprintf("%s: %s", sentinel.Message, detail)
	}
	clone.Source = sentinel
	if len(metadata) > 0 {
		return clone.WithMetadata(metadata)
	}
	return clone
}
