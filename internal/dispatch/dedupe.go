package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeLock provides the "at most one invocation per trigger" guarantee
// from spec.md §4.5/§8: a best-effort SETNX-style lease keyed by trigger
// id. Grounded on modules/cache's RedisCache.Set-with-TTL shape, without
// the full cache-engine abstraction since dispatch only needs acquire.
type DedupeLock interface {
	// Acquire returns true if the caller won the lease for key (and should
	// proceed), false if another invocation already holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisDedupeLock backs the lease with Redis SETNX semantics
// (SetNX honors the TTL atomically).
type RedisDedupeLock struct {
	client *redis.Client
}

func NewRedisDedupeLock(client *redis.Client) *RedisDedupeLock {
	return &RedisDedupeLock{client: client}
}

func (l *RedisDedupeLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, 1, ttl).Result()
}

// MemoryDedupeLock is the in-process fallback used when no Redis address
// is configured (single-process deployments, tests).
type MemoryDedupeLock struct {
	mu      sync.Mutex
	leases  map[string]time.Time
}

func NewMemoryDedupeLock() *MemoryDedupeLock {
	return &MemoryDedupeLock{leases: make(map[string]time.Time)}
}

func (l *MemoryDedupeLock) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if until, ok := l.leases[key]; ok && now.Before(until) {
		return false, nil
	}
	l.leases[key] = now.Add(ttl)
	return true, nil
}
