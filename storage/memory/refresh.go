package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-tokenauth"
)

// RefreshRegistry implements tokenauth.RefreshRegistry in memory. Expired
// families are dropped lazily when touched.
type RefreshRegistry struct {
	mu       sync.Mutex
	families map[string]tokenauth.RefreshRecord
	now      func() time.Time
}

var _ tokenauth.RefreshRegistry = (*RefreshRegistry)(nil)

// NewRefreshRegistry returns an empty registry.
func NewRefreshRegistry() *RefreshRegistry {
	return &RefreshRegistry{
		families: map[string]tokenauth.RefreshRecord{},
		now:      time.Now,
	}
}

// WithClock overrides the time source used for lazy expiry.
func (r *RefreshRegistry) WithClock(now func() time.Time) *RefreshRegistry {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *RefreshRegistry) Register(ctx context.Context, record tokenauth.RefreshRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[record.FamilyID] = record
	return nil
}

func (r *RefreshRegistry) Rotate(ctx context.Context, familyID, presentedID string, next tokenauth.RefreshRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.families[familyID]
	if ok && !r.now().Before(current.ExpiresAt) {
		delete(r.families, familyID)
		ok = false
	}
	if !ok || current.ID != presentedID {
		delete(r.families, familyID)
		return tokenauth.ErrTokenReused
	}

	next.FamilyID = familyID
	r.families[familyID] = next
	return nil
}

func (r *RefreshRegistry) RevokeFamily(ctx context.Context, familyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.families, familyID)
	return nil
}

// Active returns the active record of a family.
func (r *RefreshRegistry) Active(familyID string) (tokenauth.RefreshRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.families[familyID]
	return record, ok
}
