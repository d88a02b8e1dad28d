package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteSetGet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "prayer:a", []byte(`{"v":1}`), time.Minute))

	entry, err := s.Get(ctx, "prayer:a")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte(`{"v":1}`), entry.Value)
	assert.Equal(t, time.Minute, entry.TTL)
}

func TestSQLiteGetAbsent(t *testing.T) {
	s := newTestSQLite(t)

	entry, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestSQLiteExpiredReadsAsMissAndIsDeleted(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "prayer:a", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	entry, err := s.Get(ctx, "prayer:a")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// The expired row was opportunistically removed.
	any, err := s.GetAny(ctx, "prayer:a")
	require.NoError(t, err)
	assert.Nil(t, any)
}

func TestSQLiteGetAnyServesExpired(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "location:current", []byte("fix"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	entry, err := s.GetAny(ctx, "location:current")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("fix"), entry.Value)
	assert.True(t, entry.Expired(time.Now()))
}

func TestSQLiteSetOverwritesWrittenAt(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "prayer:a", []byte("old"), time.Minute))
	first, err := s.GetAny(ctx, "prayer:a")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Set(ctx, "prayer:a", []byte("new"), time.Hour))

	second, err := s.GetAny(ctx, "prayer:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), second.Value)
	assert.Equal(t, time.Hour, second.TTL)
	assert.True(t, second.WrittenAt.After(first.WrittenAt))
}

func TestSQLiteKeysAndClear(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "prayer:a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "geocode:b", []byte("2"), time.Minute))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"prayer:a", "geocode:b"}, keys)

	require.NoError(t, s.Clear(ctx))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLiteExpireSweep(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 10*time.Millisecond))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 10*time.Millisecond))
	require.NoError(t, s.Set(ctx, "c", []byte("3"), time.Hour))
	time.Sleep(30 * time.Millisecond)

	count, err := s.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, keys)
}

func TestSQLiteStats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1234"), time.Hour))
	require.NoError(t, s.Set(ctx, "b", []byte("56"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.ValidEntries)
	assert.Equal(t, 1, stats.ExpiredEntries)
	assert.Equal(t, int64(6), stats.TotalBytes)
}

func TestSQLiteInitIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Init(ctx))
}
