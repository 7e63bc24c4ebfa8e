package validator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LinkLocker serializes measurements on a named link. The returned unlock
// must be called on every path once the lock is held.
type LinkLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LinkKey names the link between two hosts independent of direction
func LinkKey(a, b string) string {
	hosts := []string{a, b}
	sort.Strings(hosts)
	return strings.Join(hosts, "|")
}

// MemoryLocks is an in-process LinkLocker
type MemoryLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ LinkLocker = (*MemoryLocks)(nil)

// NewMemoryLocks creates an empty lock table
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{locks: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done
func (m *MemoryLocks) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const defaultLockPrefix = "sparkmesh:linklock:"

// compare-and-delete so a lock that expired and was re-acquired elsewhere
// is not released by its previous holder
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocks is a LinkLocker shared by every process using the same redis,
// so concurrent validator runs do not measure the same link at once
type RedisLocks struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	poll      time.Duration
}

var _ LinkLocker = (*RedisLocks)(nil)

// NewRedisLocks creates a redis-backed locker. ttl bounds how long a crashed
// holder can block a link.
func NewRedisLocks(client *redis.Client, ttl time.Duration) (*RedisLocks, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocks{
		client:    client,
		keyPrefix: defaultLockPrefix,
		ttl:       ttl,
		poll:      250 * time.Millisecond,
	}, nil
}

func (r *RedisLocks) formKey(key string) string {
	return r.keyPrefix + key
}

// Lock polls SETNX until the key is acquired or ctx is done
func (r *RedisLocks) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.formKey(key)
	token := uuid.NewString()

	for {
		acquired, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err()
		})
	}, nil
}
