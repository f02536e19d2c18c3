package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// TokenDigest returns the cache key for a raw token: its SHA-256 in hex.
// Raw tokens are never stored.
func TokenDigest(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

type cacheEntry struct {
	ac        AuthorizationContext
	tenantID  string
	expiresAt time.Time
}

// VerificationCache memoizes successful verifications by token digest.
// An entry lives for the configured TTL, never past the token's exp and,
// for tenant tokens, never past iat plus the tenant's maximum token age.
// When full, expired entries are evicted first, then the entry closest to
// expiry.
//
// Every [VerificationCache.PurgeTenant] advances a generation counter. A
// verification started before a purge of its tenant cannot repopulate the
// cache: see [VerificationCache.Generation] and
// [VerificationCache.PutIfCurrent].
type VerificationCache struct {
	ttl        time.Duration
	maxEntries int
	interval   time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	// generation counts purges; purgedAt is the generation of the last
	// purge per tenant.
	generation uint64
	purgedAt   map[string]uint64

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// NewVerificationCache returns an empty cache. A non-positive maxEntries
// disables caching; [Config] maps a negative CacheMaxEntries here.
func NewVerificationCache(ttl time.Duration, maxEntries int, sweepInterval time.Duration, opts ...Option) *VerificationCache {
	o := newOptions(opts)
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &VerificationCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		interval:   sweepInterval,
		now:        o.now,
		entries:    make(map[string]*cacheEntry),
		purgedAt:   make(map[string]uint64),
	}
}

// Get returns the cached context for digest if it has not expired.
func (c *VerificationCache) Get(digest string) (AuthorizationContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[digest]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.ac, true
}

// Generation returns the current purge generation. Read it before
// verifying a token and pass it to [VerificationCache.PutIfCurrent].
func (c *VerificationCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Put caches ac under digest.
func (c *VerificationCache) Put(digest string, ac AuthorizationContext) {
	c.put(digest, ac, 0, false)
}

// PutIfCurrent caches ac under digest unless ac's tenant was purged after
// generation gen. It reports whether the entry was stored.
func (c *VerificationCache) PutIfCurrent(digest string, ac AuthorizationContext, gen uint64) bool {
	return c.put(digest, ac, gen, true)
}

func (c *VerificationCache) put(digest string, ac AuthorizationContext, gen uint64, checkGen bool) bool {
	if c.maxEntries <= 0 || c.ttl <= 0 || ac == nil {
		return false
	}
	now := c.now()
	expiresAt := now.Add(c.ttl)
	if exp := ac.ExpiresAt(); !exp.IsZero() && exp.Before(expiresAt) {
		expiresAt = exp
	}
	var tenantID string
	if tc, ok := ac.(*TenantContext); ok {
		tenantID = tc.tenantID
		if !tc.freshUntil.IsZero() && tc.freshUntil.Before(expiresAt) {
			expiresAt = tc.freshUntil
		}
	}
	if !now.Before(expiresAt) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if checkGen && tenantID != "" && c.purgedAt[tenantID] > gen {
		return false
	}

	if _, exists := c.entries[digest]; !exists && len(c.entries) >= c.maxEntries {
		c.evictExpiredLocked(now)
		if len(c.entries) >= c.maxEntries {
			c.evictSoonestLocked()
		}
	}
	c.entries[digest] = &cacheEntry{ac: ac, tenantID: tenantID, expiresAt: expiresAt}
	return true
}

// Delete removes the entry for digest.
func (c *VerificationCache) Delete(digest string) {
	c.mu.Lock()
	delete(c.entries, digest)
	c.mu.Unlock()
}

// PurgeTenant removes every entry for tenantID and returns how many were
// removed. Called when a tenant policy changes. Verifications of the
// tenant that are still in flight are not cached afterwards.
func (c *VerificationCache) PurgeTenant(tenantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.purgedAt[tenantID] = c.generation

	n := 0
	for k, e := range c.entries {
		if e.tenantID == tenantID {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired or not.
func (c *VerificationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries.
func (c *VerificationCache) Sweep() {
	c.mu.Lock()
	c.evictExpiredLocked(c.now())
	c.mu.Unlock()
}

func (c *VerificationCache) evictExpiredLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *VerificationCache) evictSoonestLocked() {
	var soonestKey string
	var soonest time.Time
	for k, e := range c.entries {
		if soonestKey == "" || e.expiresAt.Before(soonest) {
			soonestKey, soonest = k, e.expiresAt
		}
	}
	if soonestKey != "" {
		delete(c.entries, soonestKey)
	}
}

// Start launches the background sweeper. Calling it again while the
// sweeper runs is a no-op.
func (c *VerificationCache) Start(_ context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stop != nil {
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.sweep(c.stop, c.done)
	return nil
}

// Stop stops the sweeper and waits for it to exit, bounded by ctx.
func (c *VerificationCache) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.lifecycle.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *VerificationCache) sweep(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
