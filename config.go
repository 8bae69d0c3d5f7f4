package tokenauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// MinSigningSecretLength is the recommended secret size (256 bits).
const MinSigningSecretLength = 32

// DefaultPolicy decides paths that match no rule.
type DefaultPolicy string

const (
	// PolicyAuthenticated allows any authenticated caller
	PolicyAuthenticated DefaultPolicy = "authenticated"
	// PolicyDeny denies everyone
	PolicyDeny DefaultPolicy = "deny"
)

// UnmarshalText lets env and flag loaders parse the policy.
func (p *DefaultPolicy) UnmarshalText(text []byte) error {
	switch v := DefaultPolicy(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case PolicyAuthenticated, PolicyDeny:
		*p = v
		return nil
	default:
		return fmt.Errorf("unknown default authorization policy %q", string(text))
	}
}

// Config holds token and authorization settings. It is loaded once at
// startup and passed by value; nothing in this package mutates it.
type Config struct {
	SigningSecret              string        `env:"TOKENAUTH_SIGNING_SECRET"`
	SigningAlgorithm           string        `env:"TOKENAUTH_SIGNING_ALG"       envDefault:"HS256"`
	AccessTokenTTL             time.Duration `env:"TOKENAUTH_ACCESS_TOKEN_TTL"  envDefault:"15m"`
	RefreshTokenTTL            time.Duration `env:"TOKENAUTH_REFRESH_TOKEN_TTL" envDefault:"168h"`
	Issuer                     string        `env:"TOKENAUTH_ISSUER"            envDefault:"go-tokenauth"`
	DefaultAuthorizationPolicy DefaultPolicy `env:"TOKENAUTH_DEFAULT_POLICY"    envDefault:"authenticated"`
	VerboseReasons             bool          `env:"TOKENAUTH_VERBOSE_REASONS"   envDefault:"false"`
}

// DefaultConfig returns the defaults without a signing secret.
func DefaultConfig() Config {
	return Config{
		SigningAlgorithm:           "HS256",
		AccessTokenTTL:             15 * time.Minute,
		RefreshTokenTTL:            7 * 24 * time.Hour,
		Issuer:                     "go-tokenauth",
		DefaultAuthorizationPolicy: PolicyAuthenticated,
	}
}

// LoadConfig reads Config from the environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load token configuration").
			WithTextCode(TextCodeInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration. A missing secret is the only fatal
// startup condition of this package.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return ErrSigningSecretMissing
	}
	if _, err := signingMethod(c.SigningAlgorithm); err != nil {
		return err
	}
	// exp has second precision, anything shorter issues already expired tokens
	if c.AccessTokenTTL < time.Second {
		return withDetail(ErrInvalidConfig, "access token TTL must be at least 1s", nil)
	}
	if c.RefreshTokenTTL < time.Second {
		return withDetail(ErrInvalidConfig, "refresh token TTL must be at least 1s", nil)
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return withDetail(ErrInvalidConfig, "refresh token TTL must not be shorter than access token TTL", nil)
	}
	switch c.DefaultAuthorizationPolicy {
	case PolicyAuthenticated, PolicyDeny:
	default:
		return withDetail(ErrInvalidConfig, "unknown default authorization policy", map[string]any{
			"policy": string(c.DefaultAuthorizationPolicy),
		})
	}
	return nil
}

// WeakSecret reports whether the secret is shorter than recommended.
func (c Config) WeakSecret() bool {
	return len(c.SigningSecret) < MinSigningSecretLength
}

// String redacts the signing secret.
func (c Config) String() string {
	return fmt.Sprintf("Config{alg=%s issuer=%q access_ttl=%s refresh_ttl=%s default_policy=%s secret=[REDACTED]}",
		c.SigningAlgorithm, c.Issuer, c.AccessTokenTTL, c.RefreshTokenTTL, c.DefaultAuthorizationPolicy)
}

// GoString keeps %#v from printing the secret.
func (c Config) GoString() string {
	return c.String()
}
