package store

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

const badgerKeyPrefix = "cache:"

// BadgerStore implements Store on an embedded BadgerDB.
// Entries carry their own WrittenAt/TTL envelope instead of Badger's native
// expiry so GetAny can still read entries whose TTL has elapsed.
type BadgerStore struct {
	path     string
	inMemory bool

	mu     sync.RWMutex
	db     *badger.DB
	inited bool

	initGroup singleflight.Group
}

// NewBadgerStore creates a Badger-backed store rooted at path.
func NewBadgerStore(path string) *BadgerStore {
	return &BadgerStore{path: path}
}

// NewInMemoryBadgerStore creates a Badger store with no on-disk state.
// Used in tests and as a volatile fallback.
func NewInMemoryBadgerStore() *BadgerStore {
	return &BadgerStore{inMemory: true}
}

// Init opens the database. Idempotent; concurrent callers share one
// in-flight open.
func (s *BadgerStore) Init(ctx context.Context) error {
	s.mu.RLock()
	inited := s.inited
	s.mu.RUnlock()
	if inited {
		return nil
	}

	_, err, _ := s.initGroup.Do("init", func() (any, error) {
		return nil, s.open()
	})
	return wrapErr("init", err)
}

func (s *BadgerStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return nil
	}

	opts := badger.DefaultOptions(s.path).WithLogger(nil)
	if s.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return err
	}

	s.db = db
	s.inited = true
	if s.inMemory {
		log.Printf("[BadgerStore] Initialized in-memory")
	} else {
		log.Printf("[BadgerStore] Initialized with directory: %s", s.path)
	}
	return nil
}

// Get returns the entry for key, nil when absent or expired. Expired
// entries are deleted best-effort.
func (s *BadgerStore) Get(ctx context.Context, key string) (*Entry, error) {
	entry, err := s.GetAny(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Expired(time.Now()) {
		if err := s.Delete(ctx, key); err != nil {
			log.Printf("[BadgerStore] Warning: failed to delete expired entry %s: %v", key, err)
		}
		return nil, nil
	}
	return entry, nil
}

// GetAny returns the entry regardless of expiry, nil when absent.
func (s *BadgerStore) GetAny(ctx context.Context, key string) (*Entry, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	var entry *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			entry = &e
			return nil
		})
	})
	return entry, wrapErr("get", err)
}

// Set upserts an entry, resetting its write time to now.
func (s *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(Entry{
		Key:       key,
		Value:     value,
		WrittenAt: time.Now(),
		TTL:       ttl,
	})
	if err != nil {
		return wrapErr("set", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+key), data)
	})
	return wrapErr("set", err)
}

// Delete removes one entry.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + key))
	})
	return wrapErr("delete", err)
}

// Clear removes all entries.
func (s *BadgerStore) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(badgerKeyPrefix + k)); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr("clear", err)
}

// Keys enumerates every stored key.
func (s *BadgerStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return keys, wrapErr("keys", err)
}

// ExpireSweep deletes expired entries and returns the count.
func (s *BadgerStore) ExpireSweep(ctx context.Context) (int, error) {
	if err := s.Init(ctx); err != nil {
		return 0, err
	}

	now := time.Now()
	var expired []string
	err := s.scan(func(e *Entry) {
		if e.Expired(now) {
			expired = append(expired, e.Key)
		}
	})
	if err != nil {
		return 0, wrapErr("expire_sweep", err)
	}

	deleted := 0
	for _, k := range expired {
		if err := s.Delete(ctx, k); err != nil {
			log.Printf("[BadgerStore] Warning: sweep failed to delete %s: %v", k, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Stats reports entry counts and payload size.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.Init(ctx); err != nil {
		return Stats{}, err
	}

	var st Stats
	now := time.Now()
	err := s.scan(func(e *Entry) {
		st.TotalEntries++
		st.TotalBytes += int64(len(e.Value))
		if e.Expired(now) {
			st.ExpiredEntries++
		} else {
			st.ValidEntries++
		}
	})
	return st, wrapErr("stats", err)
}

func (s *BadgerStore) scan(fn func(*Entry)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				fn(&e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *BadgerStore) Close() error {
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
