// Package lock provides named advisory locks with a bounded acquisition wait.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks. Acquire returns ok=false when the lock could
// not be obtained within wait; that is not an error.
type Locker interface {
	Acquire(ctx context.Context, key string, wait, ttl time.Duration) (lease Lease, ok bool, err error)
}

const defaultPoll = 50 * time.Millisecond

// Default timings for callers without configuration. A lock not obtained
// within DefaultWait is skipped.
const (
	DefaultWait = 2 * time.Second
	DefaultTTL  = time.Minute
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and token-checked release.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
	Poll   time.Duration
}

// NewRedisLocker creates a RedisLocker with the given key prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{Client: client, Prefix: prefix, Poll: defaultPoll}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, wait, ttl time.Duration) (Lease, bool, error) {
	token := uuid.New().String()
	full := l.Prefix + key
	try := func(ctx context.Context) (bool, error) {
		return l.Client.SetNX(ctx, full, token, ttl).Result()
	}
	ok, err := poll(ctx, wait, l.Poll, try)
	if err != nil || !ok {
		return nil, false, err
	}
	return &redisLease{client: l.Client, key: full, token: token}, true, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (r *redisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	Poll time.Duration
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), Poll: defaultPoll}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, wait, ttl time.Duration) (Lease, bool, error) {
	try := func(context.Context) (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		now := time.Now()
		if exp, ok := l.held[key]; ok && now.Before(exp) {
			return false, nil
		}
		l.held[key] = now.Add(ttl)
		return true, nil
	}
	ok, err := poll(ctx, wait, l.Poll, try)
	if err != nil || !ok {
		return nil, false, err
	}
	return &localLease{locker: l, key: key}, true, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
}

func (r *localLease) Release(context.Context) error {
	r.locker.mu.Lock()
	defer r.locker.mu.Unlock()
	delete(r.locker.held, r.key)
	return nil
}

// poll retries try until it succeeds, wait elapses or ctx is done.
func poll(ctx context.Context, wait, interval time.Duration, try func(context.Context) (bool, error)) (bool, error) {
	if interval <= 0 {
		interval = defaultPoll
	}
	deadline := time.Now().Add(wait)
	for {
		ok, err := try(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		sleep := interval
		if remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(sleep):
		}
	}
}
