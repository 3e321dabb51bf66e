package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultTTL is used when NewManager is given a non-positive TTL.
const DefaultTTL = time.Hour

// Loader produces the data for a missing key.
type Loader func(ctx context.Context) ([]byte, error)

// Manager handles caching operations with a memory layer and an optional
// Redis layer.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration

	mu     sync.RWMutex
	memory map[string]*CacheEntry
}

// NewManager creates a new cache manager. redisClient may be nil, in which
// case entries live only for the lifetime of the process.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		redis:  redisClient,
		ttl:    ttl,
		memory: make(map[string]*CacheEntry),
	}
}

// TTL returns the lifetime given to entries stored by GetOrLoad.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	cacheKey := key.String()

	if entry, ok := m.getMemory(cacheKey); ok {
		CacheHits.WithLabelValues("memory").Inc()
		return entry, nil
	}

	if m.redis == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	m.setMemory(cacheKey, &entry)

	return &entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
// Expired entries are not stored.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	cacheKey := key.String()
	m.setMemory(cacheKey, entry)

	if m.redis == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, cacheKey, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry from both layers.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	cacheKey := key.String()

	m.mu.Lock()
	delete(m.memory, cacheKey)
	m.mu.Unlock()

	if m.redis == nil {
		return nil
	}

	if err := m.redis.Del(ctx, cacheKey).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// GetOrLoad returns the cached data for key, calling load on a miss and
// storing its result. Redis failures degrade to a miss; load errors are
// returned unchanged and nothing is stored.
func (m *Manager) GetOrLoad(ctx context.Context, key CacheKey, load Loader) ([]byte, error) {
	entry, err := m.Get(ctx, key)
	if err == nil {
		return entry.Data, nil
	}

	data, err := load(ctx)
	if err != nil {
		return nil, err
	}

	// A Redis write failure still leaves the memory layer populated.
	_ = m.Set(ctx, key, NewEntry(data, m.ttl))

	return data, nil
}

func (m *Manager) getMemory(cacheKey string) (*CacheEntry, bool) {
	m.mu.RLock()
	entry, ok := m.memory[cacheKey]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if entry.IsExpired() {
		m.mu.Lock()
		delete(m.memory, cacheKey)
		m.mu.Unlock()
		return nil, false
	}
	return entry, true
}

func (m *Manager) setMemory(cacheKey string, entry *CacheEntry) {
	m.mu.Lock()
	m.memory[cacheKey] = entry
	m.mu.Unlock()
}
