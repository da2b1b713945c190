package application

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultValidationCacheTTL is how long a successful liveness check is reused.
const DefaultValidationCacheTTL = 5 * time.Minute

// LiveResult is a cached successful liveness check.
type LiveResult struct {
	Login     string
	Scopes    []string
	CheckedAt time.Time
}

type cacheEntry struct {
	result    LiveResult
	expiresAt time.Time
}

// ValidationCache remembers successful liveness checks so repeated writes of
// the same credential don't hit the provider's API. Entries expire lazily at
// lookup time. Keys are digests, so the cache never holds secret material.
type ValidationCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewValidationCache returns a cache whose entries live for ttl.
func NewValidationCache(ttl time.Duration) *ValidationCache {
	if ttl <= 0 {
		ttl = DefaultValidationCacheTTL
	}
	return &ValidationCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// validationCacheKey derives the cache key for a provider credential.
func validationCacheKey(providerID, value string) string {
	sum := sha256.Sum256([]byte(providerID + "\x00" + value))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for the credential if it has not expired.
func (c *ValidationCache) Get(providerID, value string) (LiveResult, bool) {
	key := validationCacheKey(providerID, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return LiveResult{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return LiveResult{}, false
	}
	return e.result, true
}

// Put records a successful check.
func (c *ValidationCache) Put(providerID, value string, result LiveResult) {
	key := validationCacheKey(providerID, value)
	now := c.now()
	if result.CheckedAt.IsZero() {
		result.CheckedAt = now
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, expiresAt: now.Add(c.ttl)}
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *ValidationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
