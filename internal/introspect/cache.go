package introspect

import (
	"context"
	"sync"
	"time"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
)

// cacheEntry holds one introspection result and the instant it goes stale.
type cacheEntry struct {
	result  *oauth.Introspection
	staleAt time.Time
}

// Cache wraps an Introspector and reuses each verdict for a bounded
// freshness window. A cached "active" result is never trusted past the
// token's own expiry, so an expired token cannot ride the cache. Revocation
// is the one thing the window trades away: a revoked token may keep working
// until its entry goes stale.
type Cache struct {
	inner    Introspector
	freshFor time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	now func() time.Time
}

// NewCache wraps inner with a freshness window. freshFor <= 0 disables
// caching entirely; every call goes through.
func NewCache(inner Introspector, freshFor time.Duration) *Cache {
	return &Cache{
		inner:    inner,
		freshFor: freshFor,
		entries:  make(map[string]cacheEntry),
		now:      time.Now,
	}
}

func (c *Cache) Introspect(ctx context.Context, token string) (*oauth.Introspection, error) {
	if c.freshFor <= 0 {
		return c.inner.Introspect(ctx, token)
	}

	key := oauth.HashToken(token)
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.staleAt) {
		return entry.result, nil
	}

	result, err := c.inner.Introspect(ctx, token)
	if err != nil {
		// Unreachable backends are not cached; the next call retries.
		return nil, err
	}

	staleAt := now.Add(c.freshFor)
	if result.Active && result.Exp > 0 {
		if exp := time.Unix(result.Exp, 0); exp.Before(staleAt) {
			staleAt = exp
		}
	}

	c.mu.Lock()
	// Evict whatever is stale while we hold the lock; the cache has no
	// background sweeper.
	for k, e := range c.entries {
		if !now.Before(e.staleAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{result: result, staleAt: staleAt}
	c.mu.Unlock()

	return result, nil
}

// Forget drops a single token's cached verdict, for callers that just
// revoked it themselves.
func (c *Cache) Forget(token string) {
	key := oauth.HashToken(token)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
