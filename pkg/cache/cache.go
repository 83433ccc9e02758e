// Package cache keeps the optimistic record of items the local viewer has
// already unlocked. The cache is a hint, not the source of truth: the relay
// network decides entitlement, and reconciliation corrects the cache when
// the two disagree.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// UnlockStore records and answers which (viewer, item) pairs are unlocked.
type UnlockStore interface {
	MarkUnlocked(ctx context.Context, viewer, item string) error
	IsUnlocked(ctx context.Context, viewer, item string) (bool, error)
	Evict(ctx context.Context, viewer, item string) error
}

// MemoryStore is a process-local UnlockStore.
type MemoryStore struct {
	mu       sync.RWMutex
	unlocked map[string]struct{}
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{unlocked: make(map[string]struct{})}
}

func cacheKey(viewer, item string) string {
	return viewer + "\x00" + item
}

func (m *MemoryStore) MarkUnlocked(_ context.Context, viewer, item string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocked[cacheKey(viewer, item)] = struct{}{}
	return nil
}

func (m *MemoryStore) IsUnlocked(_ context.Context, viewer, item string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.unlocked[cacheKey(viewer, item)]
	return ok, nil
}

func (m *MemoryStore) Evict(_ context.Context, viewer, item string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.unlocked, cacheKey(viewer, item))
	return nil
}

// RedisStore is an UnlockStore shared across processes. Entries carry a TTL
// so a stale hint eventually forces a fresh reconciliation.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps a redis client. A zero ttl keeps entries until evicted.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "zapgate:unlocked:", ttl: ttl}
}

func (r *RedisStore) key(viewer, item string) string {
	return r.prefix + viewer + ":" + item
}

func (r *RedisStore) MarkUnlocked(ctx context.Context, viewer, item string) error {
	if err := r.client.Set(ctx, r.key(viewer, item), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: mark unlocked: %w", err)
	}
	return nil
}

func (r *RedisStore) IsUnlocked(ctx context.Context, viewer, item string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(viewer, item)).Result()
	if err != nil {
		return false, fmt.Errorf("cache: check unlocked: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Evict(ctx context.Context, viewer, item string) error {
	if err := r.client.Del(ctx, r.key(viewer, item)).Err(); err != nil {
		return fmt.Errorf("cache: evict: %w", err)
	}
	return nil
}
