package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteStore implements Store on a single SQLite table.
// Thread-safe with WAL mode for high-concurrency reads. This is the default
// backend: durable, zero external services, one file on disk.
type SQLiteStore struct {
	path string

	mu     sync.RWMutex
	db     *sql.DB
	inited bool

	initGroup singleflight.Group
}

// NewSQLiteStore creates a SQLite-backed store. The database is not opened
// until Init (or the first operation, which calls Init itself).
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Init opens the database and creates the cache table. Idempotent;
// concurrent callers share one in-flight open.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.RLock()
	inited := s.inited
	s.mu.RUnlock()
	if inited {
		return nil
	}

	_, err, _ := s.initGroup.Do("init", func() (any, error) {
		return nil, s.open(ctx)
	})
	return wrapErr("init", err)
}

func (s *SQLiteStore) open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return nil
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	query := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		written_at INTEGER NOT NULL,
		ttl_millis INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_written ON cache_entries(written_at);
	`
	if _, err := db.ExecContext(ctx, query); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	s.db = db
	s.inited = true
	log.Printf("[SQLiteStore] Initialized with database: %s", s.path)
	return nil
}

// Get returns the entry for key, nil when absent or expired. Expired rows
// are deleted best-effort on the way out.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	entry, err := s.GetAny(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Expired(time.Now()) {
		if err := s.Delete(ctx, key); err != nil {
			log.Printf("[SQLiteStore] Warning: failed to delete expired entry %s: %v", key, err)
		}
		return nil, nil
	}
	return entry, nil
}

// GetAny returns the entry regardless of expiry, nil when absent.
func (s *SQLiteStore) GetAny(ctx context.Context, key string) (*Entry, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT value, written_at, ttl_millis FROM cache_entries WHERE key = ?`, key)

	var value []byte
	var writtenAt, ttlMillis int64
	if err := row.Scan(&value, &writtenAt, &ttlMillis); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapErr("get", err)
	}

	return &Entry{
		Key:       key,
		Value:     value,
		WrittenAt: time.UnixMilli(writtenAt),
		TTL:       time.Duration(ttlMillis) * time.Millisecond,
	}, nil
}

// Set upserts an entry, resetting its write time to now.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, written_at, ttl_millis)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			written_at = excluded.written_at,
			ttl_millis = excluded.ttl_millis`,
		key, value, time.Now().UnixMilli(), ttl.Milliseconds())
	return wrapErr("set", err)
}

// Delete removes one entry.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return wrapErr("delete", err)
}

// Clear removes all entries.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return wrapErr("clear", err)
}

// Keys enumerates every stored key.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache_entries`)
	if err != nil {
		return nil, wrapErr("keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrapErr("keys", err)
		}
		keys = append(keys, k)
	}
	return keys, wrapErr("keys", rows.Err())
}

// ExpireSweep deletes expired rows in one statement and returns the count.
func (s *SQLiteStore) ExpireSweep(ctx context.Context) (int, error) {
	if err := s.Init(ctx); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE written_at + ttl_millis <= ?`,
		time.Now().UnixMilli())
	if err != nil {
		return 0, wrapErr("expire_sweep", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats reports entry counts and payload size.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.Init(ctx); err != nil {
		return Stats{}, err
	}

	var st Stats
	now := time.Now().UnixMilli()
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN written_at + ttl_millis > ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(LENGTH(value)), 0)
		FROM cache_entries`, now)
	if err := row.Scan(&st.TotalEntries, &st.ValidEntries, &st.TotalBytes); err != nil {
		return Stats{}, wrapErr("stats", err)
	}
	st.ExpiredEntries = st.TotalEntries - st.ValidEntries
	return st, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.inited = false
	return err
}
