package providers

import (
	"sync"
	"time"

	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// secretCache is a bounded-by-TTL in-memory read cache keyed by secret name.
// Each cloud provider instance owns its own cache so separate vaults never
// cross-contaminate entries. Entries are never persisted; Clear is called on
// provider Close.
type secretCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     provider.SecretValue
	expiresAt time.Time
}

func newSecretCache(ttl time.Duration) *secretCache {
	return &secretCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a copy of the cached value if present and not past its TTL.
func (c *secretCache) Get(name string) (*provider.SecretValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[name]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}

	v := e.value
	return &v, true
}

// Set stores a value under the cache TTL.
func (c *secretCache) Set(name string, v *provider.SecretValue) {
	if c.ttl <= 0 || v == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[name] = cacheEntry{
		value:     *v,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate removes one entry. Called after writes and deletes so reads never
// serve a superseded value for the cache TTL.
func (c *secretCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

// Clear drops every entry.
func (c *secretCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of entries, expired or not.
func (c *secretCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
