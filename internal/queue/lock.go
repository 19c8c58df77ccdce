package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyLocker grants per-(queue, key) mutual exclusion so that at most one
// events job per block hash is ever running, matching spec §4.C.
type keyLocker interface {
	Acquire(ctx context.Context, queue, key string) (bool, error)
	Release(ctx context.Context, queue, key string) error
	Close() error
}

// redisLocker holds a Redis SETNX-with-TTL lock per key, grounded on the
// watcher's AcquireLock/ReleaseLock pattern.
type redisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func newRedisLocker(addr string, ttl time.Duration) (*redisLocker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &redisLocker{rdb: rdb, ttl: ttl}, nil
}

func (l *redisLocker) key(queue, key string) string {
	return fmt.Sprintf("chainwatch:lock:%s:%s", queue, key)
}

func (l *redisLocker) Acquire(ctx context.Context, queue, key string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key(queue, key), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (l *redisLocker) Release(ctx context.Context, queue, key string) error {
	return l.rdb.Del(ctx, l.key(queue, key)).Err()
}

func (l *redisLocker) Close() error {
	return l.rdb.Close()
}

// memoryLocker is the single-process fallback used when no Redis endpoint
// is configured. It provides the same exclusion guarantee within one
// process but not across a multi-process deployment.
type memoryLocker struct {
	mu    sync.Mutex
	held  map[string]struct{}
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: make(map[string]struct{})}
}

func (l *memoryLocker) Acquire(_ context.Context, queue, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := queue + ":" + key
	if _, ok := l.held[k]; ok {
		return false, nil
	}
	l.held[k] = struct{}{}
	return true, nil
}

func (l *memoryLocker) Release(_ context.Context, queue, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, queue+":"+key)
	return nil
}

func (l *memoryLocker) Close() error { return nil }
