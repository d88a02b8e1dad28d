package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore implements Store on Redis for deployments where multiple
// instances share one persistent tier.
//
// Entries keep their WrittenAt/TTL envelope client-side instead of using
// Redis EXPIRE: GetAny must be able to read an entry after its TTL elapsed,
// which a server-side expiry would have already destroyed. ExpireSweep does
// the actual deleting.
type RedisStore struct {
	cfg RedisConfig

	mu     sync.RWMutex
	client *redis.Client
	inited bool

	initGroup singleflight.Group
}

// NewRedisStore creates a Redis-backed store. The connection is not made
// until Init.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "maktaba:cache"
	}
	return &RedisStore{cfg: cfg}
}

func (s *RedisStore) redisKey(key string) string {
	return s.cfg.KeyPrefix + ":" + key
}

// Init connects and pings. Idempotent; concurrent callers share one
// in-flight attempt.
func (s *RedisStore) Init(ctx context.Context) error {
	s.mu.RLock()
	inited := s.inited
	s.mu.RUnlock()
	if inited {
		return nil
	}

	_, err, _ := s.initGroup.Do("init", func() (any, error) {
		return nil, s.connect(ctx)
	})
	return wrapErr("init", err)
}

func (s *RedisStore) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         s.cfg.Addr,
		Password:     s.cfg.Password,
		DB:           s.cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return err
	}

	s.client = client
	s.inited = true
	log.Printf("[RedisStore] Initialized - %s DB:%d prefix:%s", s.cfg.Addr, s.cfg.DB, s.cfg.KeyPrefix)
	return nil
}

// Get returns the entry for key, nil when absent or expired. Expired
// entries are deleted best-effort.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	entry, err := s.GetAny(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Expired(time.Now()) {
		if err := s.Delete(ctx, key); err != nil {
			log.Printf("[RedisStore] Warning: failed to delete expired entry %s: %v", key, err)
		}
		return nil, nil
	}
	return entry, nil
}

// GetAny returns the entry regardless of expiry, nil when absent.
func (s *RedisStore) GetAny(ctx context.Context, key string) (*Entry, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, wrapErr("get", err)
	}
	return &entry, nil
}

// Set upserts an entry, resetting its write time to now.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
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

	return wrapErr("set", s.client.Set(ctx, s.redisKey(key), data, 0).Err())
}

// Delete removes one entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	return wrapErr("delete", s.client.Del(ctx, s.redisKey(key)).Err())
}

// Clear removes all entries under the store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, s.redisKey(k))
	}
	_, err = pipe.Exec(ctx)
	return wrapErr("clear", err)
}

// Keys enumerates every stored key (prefix stripped).
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	var keys []string
	prefix := s.cfg.KeyPrefix + ":"
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	return keys, wrapErr("keys", iter.Err())
}

// ExpireSweep deletes expired entries and returns the count.
func (s *RedisStore) ExpireSweep(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	deleted := 0
	for _, k := range keys {
		entry, err := s.GetAny(ctx, k)
		if err != nil || entry == nil {
			continue
		}
		if entry.Expired(now) {
			if err := s.Delete(ctx, k); err != nil {
				log.Printf("[RedisStore] Warning: sweep failed to delete %s: %v", k, err)
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

// Stats reports entry counts and payload size.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	now := time.Now()
	for _, k := range keys {
		entry, err := s.GetAny(ctx, k)
		if err != nil || entry == nil {
			continue
		}
		st.TotalEntries++
		st.TotalBytes += int64(len(entry.Value))
		if entry.Expired(now) {
			st.ExpiredEntries++
		} else {
			st.ValidEntries++
		}
	}
	return st, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.inited = false
	return err
}
