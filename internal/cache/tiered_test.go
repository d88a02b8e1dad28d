package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maktaba-api/internal/store"
)

// fakeStore is an in-memory store.Store with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*store.Entry
	failAll bool
	now     func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*store.Entry), now: time.Now}
}

func (s *fakeStore) err(op string) error {
	if s.failAll {
		return &store.StoreError{Op: op, Err: errors.New("backing store down")}
	}
	return nil
}

func (s *fakeStore) Init(ctx context.Context) error { return s.err("init") }

func (s *fakeStore) Get(ctx context.Context, key string) (*store.Entry, error) {
	if err := s.err("get"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if entry.Expired(s.now()) {
		delete(s.entries, key)
		return nil, nil
	}
	return entry, nil
}

func (s *fakeStore) GetAny(ctx context.Context, key string) (*store.Entry, error) {
	if err := s.err("get"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key], nil
}

func (s *fakeStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.err("set"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &store.Entry{Key: key, Value: value, WrittenAt: s.now(), TTL: ttl}
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	if err := s.err("delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *fakeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*store.Entry)
	return nil
}

func (s *fakeStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.err("keys"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *fakeStore) ExpireSweep(ctx context.Context) (int, error) {
	if err := s.err("expire_sweep"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for k, e := range s.entries {
		if e.Expired(s.now()) {
			delete(s.entries, k)
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.Stats{TotalEntries: len(s.entries)}, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// testClock drives expiry without sleeping.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache() (*Tiered, *fakeStore, *testClock) {
	st := newFakeStore()
	clock := newTestClock()
	st.now = clock.Now
	c := NewTiered(st)
	c.now = clock.Now
	return c, st, clock
}

func TestSetThenGet(t *testing.T) {
	c, st, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte(`{"x":1}`), time.Minute))

	value, err := c.Get(ctx, "prayer:a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"x":1}`), value)

	// Write-through reached the store.
	assert.True(t, st.has("prayer:a"))
}

func TestGetExpiresAfterTTL(t *testing.T) {
	c, _, clock := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte("v"), time.Minute))
	clock.Advance(time.Minute)

	_, err := c.Get(ctx, "prayer:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGetFallsBackToStore(t *testing.T) {
	c, st, clock := newTestCache()
	ctx := context.Background()

	// Entry only in the persistent tier.
	require.NoError(t, st.Set(ctx, "prayer:a", []byte("v"), time.Hour))

	value, err := c.Get(ctx, "prayer:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	// Repopulated into memory: survives a store outage now.
	st.failAll = true
	clock.Advance(time.Second)
	value, err = c.Get(ctx, "prayer:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestStoreFailureDegradesToMiss(t *testing.T) {
	c, st, _ := newTestCache()
	ctx := context.Background()
	st.failAll = true

	_, err := c.Get(ctx, "prayer:a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Set still succeeds: memory is authoritative.
	require.NoError(t, c.Set(ctx, "prayer:a", []byte("v"), time.Minute))
	value, err := c.Get(ctx, "prayer:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestDeleteRemovesBothTiers(t *testing.T) {
	c, st, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "prayer:a"))

	_, err := c.Get(ctx, "prayer:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, st.has("prayer:a"))
}

func TestInvalidateNamespace(t *testing.T) {
	c, st, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte("1"), time.Hour))
	require.NoError(t, c.Set(ctx, "prayer:b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "geocode:a", []byte("3"), time.Hour))

	require.NoError(t, c.InvalidateNamespace(ctx, "prayer"))

	_, err := c.Get(ctx, "prayer:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "prayer:b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, st.has("prayer:a"))
	assert.False(t, st.has("prayer:b"))

	// Other namespaces untouched in both tiers.
	value, err := c.Get(ctx, "geocode:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), value)
	assert.True(t, st.has("geocode:a"))
}

func TestInvalidateNamespaceIsPrefixExact(t *testing.T) {
	c, _, _ := newTestCache()
	ctx := context.Background()

	// "prayerbook" shares leading characters but not the namespace.
	require.NoError(t, c.Set(ctx, "prayerbook:a", []byte("1"), time.Hour))
	require.NoError(t, c.InvalidateNamespace(ctx, "prayer"))

	value, err := c.Get(ctx, "prayerbook:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)
}

func TestGetOrFetchComputesOnceOnMiss(t *testing.T) {
	c, _, _ := newTestCache()
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("computed"), nil
	}

	value, err := c.GetOrFetch(ctx, "prayer:a", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, []byte("computed"), value)
	assert.Equal(t, int32(1), calls.Load())

	// Second call is a pure hit.
	value, err = c.GetOrFetch(ctx, "prayer:a", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, []byte("computed"), value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrFetchPropagatesError(t *testing.T) {
	c, _, _ := newTestCache()
	ctx := context.Background()

	wantErr := errors.New("upstream down")
	_, err := c.GetOrFetch(ctx, "prayer:a", time.Minute, func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestGetOrFetchCoalescesConcurrentCallers(t *testing.T) {
	c, _, _ := newTestCache()
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := c.GetOrFetch(ctx, "prayer:a", time.Minute, fn)
			assert.NoError(t, err)
			assert.Equal(t, []byte("v"), value)
		}()
	}

	// Let the callers pile up on the singleflight, then release.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrFetchStaleFreshEntryNoRefresh(t *testing.T) {
	c, _, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte("old"), time.Minute))

	var calls atomic.Int32
	value, err := c.GetOrFetchStale(ctx, "prayer:a", time.Minute, 48*time.Second,
		func(ctx context.Context) ([]byte, error) {
			calls.Add(1)
			return []byte("new"), nil
		})
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), value)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestGetOrFetchStaleAgingEntryRefreshesInBackground(t *testing.T) {
	c, _, clock := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte("old"), time.Minute))
	clock.Advance(50 * time.Second) // past staleAfter (48s), inside ttl

	var calls atomic.Int32
	value, err := c.GetOrFetchStale(ctx, "prayer:a", time.Minute, 48*time.Second,
		func(ctx context.Context) ([]byte, error) {
			calls.Add(1)
			return []byte("new"), nil
		})
	require.NoError(t, err)
	// Old value served synchronously.
	assert.Equal(t, []byte("old"), value)

	// Exactly one background refresh lands.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		v, err := c.Get(ctx, "prayer:a")
		return err == nil && string(v) == "new"
	}, time.Second, 5*time.Millisecond)
}

func TestGetOrFetchStaleExpiredEntryComputesSynchronously(t *testing.T) {
	c, _, clock := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte("old"), time.Minute))
	clock.Advance(2 * time.Minute)

	value, err := c.GetOrFetchStale(ctx, "prayer:a", time.Minute, 48*time.Second,
		func(ctx context.Context) ([]byte, error) {
			return []byte("new"), nil
		})
	require.NoError(t, err)
	// The expired value must not come back.
	assert.Equal(t, []byte("new"), value)
}

func TestGetOrFetchStaleStoreHitIsStaleByDefinition(t *testing.T) {
	c, st, _ := newTestCache()
	ctx := context.Background()

	// Valid store entry, nothing in memory: unknown wall-clock history, so
	// it serves immediately AND refreshes.
	require.NoError(t, st.Set(ctx, "prayer:a", []byte("persisted"), time.Hour))

	var calls atomic.Int32
	value, err := c.GetOrFetchStale(ctx, "prayer:a", time.Hour, 0,
		func(ctx context.Context) ([]byte, error) {
			calls.Add(1)
			return []byte("new"), nil
		})
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), value)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestGetOrFetchStaleBackgroundFailureKeepsStaleValue(t *testing.T) {
	c, _, clock := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte("old"), time.Minute))
	clock.Advance(50 * time.Second)

	var calls atomic.Int32
	_, err := c.GetOrFetchStale(ctx, "prayer:a", time.Minute, 48*time.Second,
		func(ctx context.Context) ([]byte, error) {
			calls.Add(1)
			return nil, errors.New("refresh failed")
		})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Stale value still serves.
	value, err := c.Get(ctx, "prayer:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), value)
}

func TestClearExpired(t *testing.T) {
	c, st, clock := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "prayer:long", []byte("2"), time.Hour))
	clock.Advance(time.Minute)

	removed, err := c.ClearExpired(ctx)
	require.NoError(t, err)
	// One memory entry + one store entry.
	assert.Equal(t, 2, removed)
	assert.False(t, st.has("prayer:short"))

	value, err := c.Get(ctx, "prayer:long")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), value)
}

func TestGetExpiredBypassesTTL(t *testing.T) {
	c, _, clock := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "location:current", []byte("fix"), time.Second))
	clock.Advance(time.Minute)

	entry, err := c.GetExpired(ctx, "location:current")
	require.NoError(t, err)
	assert.Equal(t, []byte("fix"), entry.Value)
	assert.True(t, entry.Expired(clock.Now()))
}

func TestNilStoreMemoryOnly(t *testing.T) {
	c := NewTiered(nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte("v"), time.Minute))
	value, err := c.Get(ctx, "prayer:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	_, err = c.GetExpired(ctx, "prayer:a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.InvalidateNamespace(ctx, "prayer"))
	_, err = c.Get(ctx, "prayer:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestStatsCounters(t *testing.T) {
	c, _, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "prayer:a", []byte("v"), time.Minute))
	_, _ = c.Get(ctx, "prayer:a")
	_, _ = c.Get(ctx, "prayer:missing")

	stats := c.Stats(ctx)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.MemoryEntries)
}
