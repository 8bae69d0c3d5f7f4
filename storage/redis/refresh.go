// Package redis provides a Redis-backed tokenauth.RefreshRegistry, so refresh
// rotation works across several processes sharing one Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-tokenauth"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis registry
type Config struct {
	// Client is the Redis client instance
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys
	// Default: "tokenauth:refresh:"
	KeyPrefix string

	// Now is the time source used to compute key TTLs
	// Default: time.Now
	Now func() time.Time
}

// RefreshRegistry stores the active refresh token id of each family under
// one key that expires with the token.
type RefreshRegistry struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

var _ tokenauth.RefreshRegistry = (*RefreshRegistry)(nil)

// New creates a new Redis-based refresh registry.
func New(config Config) (*RefreshRegistry, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "tokenauth:refresh:"
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RefreshRegistry{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
		now:       config.Now,
	}, nil
}

func (r *RefreshRegistry) Register(ctx context.Context, record tokenauth.RefreshRecord) error {
	ttl := record.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.familyKey(record.FamilyID), record.ID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to register refresh family %s: %w", record.FamilyID, err)
	}
	return nil
}

var rotateScript = redis.NewScript(`
local family = KEYS[1]
local presented = ARGV[1]
local replacement = ARGV[2]
local ttl = tonumber(ARGV[3])
if redis.call('GET', family) == presented and ttl > 0 then
  redis.call('SET', family, replacement, 'PX', ttl)
  return 1
end
redis.call('DEL', family)
return 0
`)

func (r *RefreshRegistry) Rotate(ctx context.Context, familyID, presentedID string, next tokenauth.RefreshRecord) error {
	ttl := next.ExpiresAt.Sub(r.now()).Milliseconds()
	keys := []string{r.familyKey(familyID)}

	res, err := rotateScript.Run(ctx, r.client, keys, presentedID, next.ID, ttl).Int()
	if err != nil {
		return fmt.Errorf("failed to rotate refresh family %s: %w", familyID, err)
	}
	if res != 1 {
		return tokenauth.ErrTokenReused
	}
	return nil
}

func (r *RefreshRegistry) RevokeFamily(ctx context.Context, familyID string) error {
	if err := r.client.Del(ctx, r.familyKey(familyID)).Err(); err != nil {
		return fmt.Errorf("failed to revoke refresh family %s: %w", familyID, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RefreshRegistry) Close() error {
	return r.client.Close()
}

func (r *RefreshRegistry) familyKey(familyID string) string {
	return r.keyPrefix + familyID
}
