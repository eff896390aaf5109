// Package cache memoizes successful page fetches so reruns within the TTL
// do not hit the source site again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/helpers"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
	"github.com/redis/go-redis/v9"
)

// Store is the key/value surface the cached fetcher needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type fetcher interface {
	Fetch(ctx context.Context, req models.Request) (string, error)
}

// Fetcher wraps another fetcher. Only successful bodies are stored, and a
// cache outage degrades to a direct fetch.
type Fetcher struct {
	next   fetcher
	store  Store
	ttl    time.Duration
	logger *log.Logger
}

func NewFetcher(next fetcher, store Store, ttl time.Duration, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Fetcher{next: next, store: store, ttl: ttl, logger: logger}
}

func (f *Fetcher) Fetch(ctx context.Context, req models.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	key := Key(req.URL)
	if body, ok, err := f.store.Get(ctx, key); err != nil {
		f.logger.Printf("get %s: %v", req.URL, err)
	} else if ok {
		return body, nil
	}

	body, err := f.next.Fetch(ctx, req)
	if err != nil {
		return "", err
	}
	if err := f.store.Set(ctx, key, body, f.ttl); err != nil {
		f.logger.Printf("set %s: %v", req.URL, err)
	}
	return body, nil
}

// Key derives the cache key for a URL. URLs that only differ by tracking
// parameters, fragments or host case share a key.
func Key(rawURL string) string {
	if fp, err := helpers.URLFingerprint(rawURL); err == nil {
		return "fetch:" + fp
	}
	sum := sha256.Sum256([]byte(rawURL))
	return "fetch:" + hex.EncodeToString(sum[:])
}

// RedisStore keeps fetched bodies in Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Ping checks the connection so callers can fall back to no cache.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is an in-process Store. Entries past their TTL read as misses.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}
