// Package flags caches derived boolean flags, such as whether any active
// program exists, behind an explicit invalidation call.
package flags

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store persists cached flags.
type Store interface {
	Get(ctx context.Context, key string) (value bool, ok bool, err error)
	Set(ctx context.Context, key string, value bool) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps flags in process memory.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]bool)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// RedisStore shares flags between processes.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{Client: client, Prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (bool, bool, error) {
	v, err := s.Client.Get(ctx, s.Prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("reading flag %s: %w", key, err)
	}
	return v == "1", true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value bool) error {
	v := "0"
	if value {
		v = "1"
	}
	if err := s.Client.Set(ctx, s.Prefix+key, v, 0).Err(); err != nil {
		return fmt.Errorf("writing flag %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.Client.Del(ctx, s.Prefix+key).Err(); err != nil {
		return fmt.Errorf("deleting flag %s: %w", key, err)
	}
	return nil
}

const activeProgramsKey = "active_programs"

// ActivePrograms answers "does any non-archived program exist" from the
// store, recomputing on a miss. Program create, archive, restore and
// delete must call Invalidate.
type ActivePrograms struct {
	store   Store
	compute func(ctx context.Context) (bool, error)
	logger  *slog.Logger
}

func NewActivePrograms(store Store, compute func(ctx context.Context) (bool, error), logger *slog.Logger) *ActivePrograms {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ActivePrograms{store: store, compute: compute, logger: logger}
}

// Get returns the cached flag. A failing store falls back to computing directly.
func (a *ActivePrograms) Get(ctx context.Context) (bool, error) {
	v, ok, err := a.store.Get(ctx, activeProgramsKey)
	if err != nil {
		a.logger.WarnContext(ctx, "flag store read failed", "key", activeProgramsKey, "error", err)
		return a.compute(ctx)
	}
	if ok {
		return v, nil
	}
	v, err = a.compute(ctx)
	if err != nil {
		return false, err
	}
	if err := a.store.Set(ctx, activeProgramsKey, v); err != nil {
		a.logger.WarnContext(ctx, "flag store write failed", "key", activeProgramsKey, "error", err)
	}
	return v, nil
}

// Invalidate drops the cached value.
func (a *ActivePrograms) Invalidate(ctx context.Context) error {
	return a.store.Delete(ctx, activeProgramsKey)
}
