// Package cache provides a generic TTL cache used to memoize embeddings and
// retrieval results. The cache is purely an optimization: misses must always
// be transparently satisfied by recomputation, and it is never a source of
// truth.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is used when Set is called with a non-positive ttl.
const DefaultTTL = time.Hour

// Cache is a generic get/set/delete/clear cache with per-entry expiry.
type Cache[V any] interface {
	// Get returns the cached value for key and whether it was present and
	// unexpired.
	Get(key string) (V, bool)

	// Set stores value under key with the given ttl. A non-positive ttl
	// falls back to DefaultTTL.
	Set(key string, value V, ttl time.Duration)

	// Delete removes a single entry.
	Delete(key string)

	// Clear drops everything unconditionally.
	Clear()
}

// entry is a single cache cell with its expiry timestamp.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is a thread-safe in-memory Cache backed by a map and RWMutex.
// Expiry is lazy: entries are reclaimed only when read past their expiry or
// explicitly removed; there is no background sweep.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
	hits    uint64
	misses  uint64
}

// NewMemory creates an empty in-memory cache.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// NewMemoryWithClock creates an in-memory cache with an injected clock.
// Tests use this to simulate TTL expiry without sleeping.
func NewMemoryWithClock[V any](now func() time.Time) *Memory[V] {
	return &Memory[V]{
		entries: make(map[string]entry[V]),
		now:     now,
	}
}

// Get returns the value for key, lazily evicting it when expired.
func (c *Memory[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key.
func (c *Memory[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Delete removes the entry for key, if present.
func (c *Memory[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops all entries.
func (c *Memory[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Stats returns hit/miss counters. Size counts live entries including ones
// that have expired but not yet been lazily evicted.
func (c *Memory[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Size:   len(c.entries),
		Hits:   c.hits,
		Misses: c.misses,
	}
}

// Stats represents cache statistics
type Stats struct {
	Size   int
	Hits   uint64
	Misses uint64
}
