package tokenauth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

var errAlgorithmMismatch = errors.New("unexpected signing algorithm")

// ClaimCodec signs and parses tokens with exactly one HMAC algorithm. It is
// stateless and safe for concurrent use.
type ClaimCodec struct {
	method *jwt.SigningMethodHMAC
	parser *jwt.Parser
}

// NewClaimCodec returns a codec for HS256, HS384 or HS512.
func NewClaimCodec(alg string) (*ClaimCodec, error) {
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	return &ClaimCodec{
		method: method,
		// claims are checked by TokenService so expiry stays a caller concern
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}, nil
}

// Algorithm returns the single algorithm this codec trusts.
func (c *ClaimCodec) Algorithm() string {
	return c.method.Alg()
}

// Encode signs claims with secret.
func (c *ClaimCodec) Encode(claims *Claims, secret []byte) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}
	if len(secret) == 0 {
		return "", ErrSigningSecretMissing
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(secret)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, nil
}

// Decode verifies the signature of token and returns its claims. It fails
// with ErrTokenInvalidSignature on MAC mismatch and ErrTokenMalformed on any
// structural problem, including a header algorithm other than the configured
// one. Expired tokens decode successfully.
func (c *ClaimCodec) Decode(token string, secret []byte) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMalformed
	}
	if len(secret) == 0 {
		return nil, ErrSigningSecretMissing
	}

	claims := &Claims{}
	parsed, err := c.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method == nil || t.Method.Alg() != c.method.Alg() {
			return nil, errAlgorithmMismatch
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrTokenInvalidSignature
		}
		return nil, withDetail(ErrTokenMalformed, "", map[string]any{"cause": err.Error()})
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func signingMethod(alg string) (*jwt.SigningMethodHMAC, error) {
	switch alg {
	case jwt.SigningMethodHS256.Alg():
		return jwt.SigningMethodHS256, nil
	case jwt.SigningMethodHS384.Alg():
		return jwt.SigningMethodHS384, nil
	case jwt.SigningMethodHS512.Alg():
		return jwt.SigningMethodHS512, nil
	default:
		return nil, withDetail(ErrInvalidConfig, "unsupported signing algorithm", map[string]any{"alg": alg})
	}
}
