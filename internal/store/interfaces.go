package store

import (
	"context"
	"fmt"
	"time"
)

// Store is the durable key-value tier behind the in-memory cache.
// This abstraction allows swapping between SQLite (development/default),
// Badger (embedded production) and Redis (shared production) without
// changing the cache or the services above it.
//
// Every implementation is expected to degrade gracefully: callers treat any
// returned error as a cache miss, so a dead backing store slows the system
// down but never breaks it.
type Store interface {
	// Init opens or creates the underlying handle. Idempotent; concurrent
	// calls coalesce into a single in-flight attempt.
	Init(ctx context.Context) error

	// Get returns the entry for key, or nil when absent or expired.
	// Expired entries are opportunistically deleted; failure of that
	// delete is swallowed.
	Get(ctx context.Context, key string) (*Entry, error)

	// GetAny returns the entry for key even when it has expired, or nil
	// when absent. Used by the location fallback chain, which prefers an
	// expired real position over a hardcoded default.
	GetAny(ctx context.Context, key string) (*Entry, error)

	// Set upserts an entry, resetting its write time to now.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes one entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Keys enumerates every stored key, valid or expired. Used for
	// prefix-based namespace invalidation.
	Keys(ctx context.Context) ([]string, error)

	// ExpireSweep deletes all expired entries and returns how many.
	// Housekeeping only; Get stays correct without it.
	ExpireSweep(ctx context.Context) (int, error)

	// Stats reports entry counts and payload size. Diagnostic only.
	Stats(ctx context.Context) (Stats, error)

	// Close releases the underlying handle.
	Close() error
}

// Entry is one persisted cache record.
type Entry struct {
	Key       string        `json:"key"`
	Value     []byte        `json:"value"`
	WrittenAt time.Time     `json:"writtenAt"`
	TTL       time.Duration `json:"ttlMillis"`
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.WrittenAt)
}

// Expired reports whether the entry's TTL has elapsed.
func (e *Entry) Expired(now time.Time) bool {
	return e.Age(now) >= e.TTL
}

// Remaining returns the entry's remaining lifetime, or 0 when expired.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if rem := e.TTL - e.Age(now); rem > 0 {
		return rem
	}
	return 0
}

// Stats describes the state of a store.
type Stats struct {
	TotalEntries   int   `json:"total_entries"`
	ValidEntries   int   `json:"valid_entries"`
	ExpiredEntries int   `json:"expired_entries"`
	TotalBytes     int64 `json:"total_bytes"`
}

// StoreError wraps a backing-store failure. Callers convert it to a cache
// miss at the tier boundary.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
