package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/StricklySoft/tenantauth/pkg/models"
)

// Cache is the backing store for loaded policies. Implementations must be
// safe for concurrent use and must not hand out pointers callers can use to
// mutate cached state.
type Cache interface {
	// Get returns the cached policy. ok is false on a miss or after expiry.
	Get(ctx context.Context, tenantID string) (policy *models.TenantPolicy, ok bool, err error)
	// Set stores policy for ttl.
	Set(ctx context.Context, policy *models.TenantPolicy, ttl time.Duration) error
	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, tenantID string) error
}

type memoryEntry struct {
	policy    *models.TenantPolicy
	expiresAt time.Time
}

// MemoryCache is a process-local [Cache]. Expired entries are dropped when
// read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty cache. now may be nil.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), now: now}
}

func (c *MemoryCache) Get(_ context.Context, tenantID string) (*models.TenantPolicy, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[tenantID]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, tenantID)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.policy.Clone(), true, nil
}

func (c *MemoryCache) Set(_ context.Context, policy *models.TenantPolicy, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[policy.TenantID] = memoryEntry{policy: policy.Clone(), expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, tenantID string) error {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries, including expired ones not yet read.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
