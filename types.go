package tokenauth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock returns the current time. Tests inject fixed clocks.
type Clock func() time.Time

// AccountStore is the persistence boundary for accounts. Lookups return
// (nil, nil) when nothing matches. Create and Update return an error matching
// ErrUniqueViolation when username, email or the federated pair is taken.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByProvider(ctx context.Context, provider, externalID string) (*Account, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	Update(ctx context.Context, account *Account) (*Account, error)
	// List returns a page of accounts ordered by username and the total count.
	List(ctx context.Context, opts ListOptions) ([]*Account, int, error)
}

// ListOptions pages through accounts. A Limit of zero uses DefaultListLimit.
type ListOptions struct {
	Limit  int
	Offset int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalized clamps the limit to [1, MaxListLimit] and the offset to >= 0.
func (o ListOptions) Normalized() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// CredentialVerifier hashes and verifies local passwords. The hash format is
// opaque to this package.
type CredentialVerifier interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// RefreshRegistry keeps the single active refresh token id per family.
type RefreshRegistry interface {
	// Register makes record the active token of a new family.
	Register(ctx context.Context, record RefreshRecord) error
	// Rotate atomically replaces presentedID with next as the active token
	// of familyID. It returns ErrTokenReused, and revokes the family, when
	// presentedID is not the active token.
	Rotate(ctx context.Context, familyID, presentedID string, next RefreshRecord) error
	// RevokeFamily drops the family; none of its tokens can be redeemed.
	RevokeFamily(ctx context.Context, familyID string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print("[ERR] TOKENAUTH " + render(format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print("[WRN] TOKENAUTH " + render(format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print("[INF] TOKENAUTH " + render(format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print("[DBG] TOKENAUTH " + render(format, args...))
}

// render accepts both printf style calls and a message followed by
// key/value pairs.
func render(format string, args ...any) string {
	var out string
	switch {
	case len(args) == 0:
		out = format
	case strings.Contains(format, "%"):
		out = fmt.Sprintf(format, args...)
	default:
		var b strings.Builder
		b.WriteString(format)
		for i := 0; i < len(args); i += 2 {
			if i+1 < len(args) {
				fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			} else {
				fmt.Fprintf(&b, " %v", args[i])
			}
		}
		out = b.String()
	}
	return newline(out)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func resolveLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func resolveClock(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}
