// Package cache implements the two-tier cache: a fast volatile memory map
// in front of a durable key-value store. The memory tier is authoritative
// within the process lifetime; the persistent tier survives restarts and is
// always treated as best-effort.
package cache

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"maktaba-api/internal/cachekey"
	"maktaba-api/internal/store"
)

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in either tier.
	ErrCacheMiss CacheError = "cache miss"
)

// DefaultTTL is applied when a store-tier entry is repopulated into memory
// and its remaining lifetime cannot be recovered.
const DefaultTTL = 5 * time.Minute

// FetchFunc computes a value on cache miss or background refresh.
type FetchFunc func(ctx context.Context) ([]byte, error)

type memEntry struct {
	value     []byte
	writtenAt time.Time
	ttl       time.Duration
}

func (e *memEntry) age(now time.Time) time.Duration { return now.Sub(e.writtenAt) }
func (e *memEntry) expired(now time.Time) bool      { return e.age(now) >= e.ttl }

// Tiered composes the in-process memory tier with one persistent Store.
// The store may be nil: the cache then runs memory-only, which keeps the
// system correct (if slower across restarts) with zero persistent storage.
type Tiered struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	store   store.Store

	fetchGroup singleflight.Group
	refreshing sync.Map // key -> struct{}, de-duplicates background refreshes

	hits   atomic.Int64
	misses atomic.Int64

	// now is swapped in tests to drive expiry deterministically.
	now func() time.Time
}

// NewTiered creates a tiered cache over the given store. A nil store is
// allowed and means memory-only operation.
func NewTiered(st store.Store) *Tiered {
	return &Tiered{
		entries: make(map[string]*memEntry),
		store:   st,
		now:     time.Now,
	}
}

// Get returns the cached value for key, checking memory first and falling
// back to the persistent tier. Returns ErrCacheMiss when neither tier holds
// a valid entry. Store failures degrade to a miss.
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if value, _, ok := c.memoryGet(key); ok {
		c.hits.Add(1)
		return value, nil
	}

	entry := c.storeGet(ctx, key)
	if entry == nil {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}

	c.repopulate(key, entry)
	c.hits.Add(1)
	return entry.Value, nil
}

// memoryGet returns (value, age, true) on a valid memory hit. Expired
// entries are removed and reported as a miss.
func (c *Tiered) memoryGet(key string) ([]byte, time.Duration, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, 0, false
	}

	now := c.now()
	if entry.expired(now) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced it.
		if cur, ok := c.entries[key]; ok && cur.expired(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, 0, false
	}

	return entry.value, entry.age(now), true
}

// storeGet reads the persistent tier, converting any failure to a miss.
func (c *Tiered) storeGet(ctx context.Context, key string) *store.Entry {
	if c.store == nil {
		return nil
	}
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		log.Printf("[TieredCache] Warning: store get %s failed, treating as miss: %v", key, err)
		return nil
	}
	return entry
}

// repopulate writes a store-tier entry back into memory, preserving its
// remaining lifetime where recoverable.
func (c *Tiered) repopulate(key string, entry *store.Entry) {
	ttl := entry.Remaining(c.now())
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[key] = &memEntry{value: entry.Value, writtenAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Set writes the value to memory synchronously and writes through to the
// persistent tier best-effort. The memory write is authoritative within the
// process even when the persistent write fails.
func (c *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = &memEntry{value: value, writtenAt: c.now(), ttl: ttl}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Set(ctx, key, value, ttl); err != nil {
			log.Printf("[TieredCache] Warning: write-through for %s failed: %v", key, err)
		}
	}
	return nil
}

// Delete removes key from both tiers.
func (c *Tiered) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(ctx, key); err != nil {
			log.Printf("[TieredCache] Warning: store delete %s failed: %v", key, err)
		}
	}
	return nil
}

// InvalidateNamespace removes every key under namespace from both tiers.
// The memory tier is swept under one lock so no read observes a partially
// invalidated memory state; cross-tier atomicity against concurrent writers
// is not guaranteed.
func (c *Tiered) InvalidateNamespace(ctx context.Context, namespace string) error {
	prefix := cachekey.Prefix(namespace)

	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}

	keys, err := c.store.Keys(ctx)
	if err != nil {
		log.Printf("[TieredCache] Warning: namespace %s store invalidation failed: %v", namespace, err)
		return nil
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			log.Printf("[TieredCache] Warning: store delete %s failed: %v", key, err)
		}
	}
	return nil
}

// GetOrFetch returns the cached value or computes, stores and returns it.
// Concurrent callers on a cold key are coalesced onto a single fetch.
func (c *Tiered) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fn FetchFunc) ([]byte, error) {
	if value, err := c.Get(ctx, key); err == nil {
		return value, nil
	}

	value, err, _ := c.fetchGroup.Do(key, func() (any, error) {
		// Another coalesced caller may have already populated the cache.
		if value, _, ok := c.memoryGet(key); ok {
			return value, nil
		}
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		_ = c.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// GetOrFetchStale implements stale-while-revalidate. staleAfter <= 0
// defaults to 80% of ttl.
//
// A valid memory entry is returned immediately; when its age has passed
// staleAfter, one background refresh is fired. A valid store entry with no
// memory entry is stale by definition (the wall-clock time it spent
// unobserved by this process is unknown), so it is returned and a refresh
// fired. With no valid entry in either tier the fetch runs synchronously.
func (c *Tiered) GetOrFetchStale(ctx context.Context, key string, ttl, staleAfter time.Duration, fn FetchFunc) ([]byte, error) {
	if staleAfter <= 0 {
		staleAfter = ttl * 8 / 10
	}

	if value, age, ok := c.memoryGet(key); ok {
		c.hits.Add(1)
		if age > staleAfter {
			c.refreshInBackground(key, ttl, fn)
		}
		return value, nil
	}

	if entry := c.storeGet(ctx, key); entry != nil {
		c.repopulate(key, entry)
		c.hits.Add(1)
		c.refreshInBackground(key, ttl, fn)
		return entry.Value, nil
	}

	c.misses.Add(1)
	return c.GetOrFetch(ctx, key, ttl, fn)
}

// refreshInBackground fires fn as a detached task and overwrites the cache
// with its result. Failures are logged, never surfaced; the stale value
// stays until the next read triggers another attempt. At most one refresh
// per key runs at a time.
func (c *Tiered) refreshInBackground(key string, ttl time.Duration, fn FetchFunc) {
	if _, loaded := c.refreshing.LoadOrStore(key, struct{}{}); loaded {
		return
	}

	go func() {
		defer c.refreshing.Delete(key)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[TieredCache] Background refresh for %s panicked: %v", key, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		value, err := fn(ctx)
		if err != nil {
			log.Printf("[TieredCache] Background refresh for %s failed: %v", key, err)
			return
		}
		_ = c.Set(ctx, key, value, ttl)
	}()
}

// ClearExpired sweeps expired entries from both tiers and returns the
// combined count.
func (c *Tiered) ClearExpired(ctx context.Context) (int, error) {
	removed := 0
	now := c.now()

	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		n, err := c.store.ExpireSweep(ctx)
		if err != nil {
			log.Printf("[TieredCache] Warning: store expire sweep failed: %v", err)
		}
		removed += n
	}
	return removed, nil
}

// GetExpired reads an entry from the persistent tier bypassing TTL
// enforcement. The location fallback chain uses this to prefer an expired
// real position over a hardcoded default.
func (c *Tiered) GetExpired(ctx context.Context, key string) (*store.Entry, error) {
	if c.store == nil {
		return nil, ErrCacheMiss
	}
	entry, err := c.store.GetAny(ctx, key)
	if err != nil {
		log.Printf("[TieredCache] Warning: store get-any %s failed: %v", key, err)
		return nil, ErrCacheMiss
	}
	if entry == nil {
		return nil, ErrCacheMiss
	}
	return entry, nil
}

// Stats describes cache effectiveness and per-tier entry counts.
type Stats struct {
	Hits          int64       `json:"hits"`
	Misses        int64       `json:"misses"`
	MemoryEntries int         `json:"memory_entries"`
	Store         store.Stats `json:"store"`
}

// Stats snapshots hit/miss counters and tier sizes. Store stats are
// best-effort and zero when the persistent tier is absent or failing.
func (c *Tiered) Stats(ctx context.Context) Stats {
	c.mu.RLock()
	memEntries := len(c.entries)
	c.mu.RUnlock()

	st := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		MemoryEntries: memEntries,
	}
	if c.store != nil {
		storeStats, err := c.store.Stats(ctx)
		if err != nil {
			log.Printf("[TieredCache] Warning: store stats failed: %v", err)
		} else {
			st.Store = storeStats
		}
	}
	return st
}
