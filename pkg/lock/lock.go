package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appErrors "github.com/gympoint/gympoint-api/pkg/errors"
)

// Locker serializes operations scoped by key. Both enrollment creation and
// check-in admission run their read-check-write sequence under a lock keyed
// by student id.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, key, token string) error
}

const (
	acquireAttempts = 5
	acquireBackoff  = 50 * time.Millisecond
)

// RedisLocker implements Locker with SET NX and a compare-and-delete script,
// so a slow holder cannot release a lock it no longer owns.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Acquire attempts to take the lock, retrying briefly before giving up.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		timer := time.NewTimer(acquireBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", appErrors.ErrLockUnavailable
}

// Release frees the lock if the token still owns it.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	return err
}

// MemoryLocker is an in-process Locker for single-instance deployments and
// tests. TTL is ignored; locks are held until released.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]string
	waits map[string]chan struct{}
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]string), waits: make(map[string]chan struct{})}
}

// Acquire blocks until the key is free or the context is cancelled.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, _ time.Duration) (string, error) {
	token := uuid.NewString()
	for {
		l.mu.Lock()
		if _, busy := l.held[key]; !busy {
			l.held[key] = token
			l.mu.Unlock()
			return token, nil
		}
		wait, ok := l.waits[key]
		if !ok {
			wait = make(chan struct{})
			l.waits[key] = wait
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wait:
		}
	}
}

// Release frees the key when the token matches the holder.
func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return nil
	}
	delete(l.held, key)
	if wait, ok := l.waits[key]; ok {
		close(wait)
		delete(l.waits, key)
	}
	return nil
}
