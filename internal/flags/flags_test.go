package flags

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivePrograms_CachesUntilInvalidated(t *testing.T) {
	for name, store := range map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisStore(client, "programs:")
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			calls := 0
			active := false
			flag := NewActivePrograms(store(t), func(context.Context) (bool, error) {
				calls++
				return active, nil
			}, nil)

			v, err := flag.Get(ctx)
			require.NoError(t, err)
			assert.False(t, v)

			active = true
			v, err = flag.Get(ctx)
			require.NoError(t, err)
			assert.False(t, v, "stale until invalidated")
			assert.Equal(t, 1, calls)

			require.NoError(t, flag.Invalidate(ctx))
			v, err = flag.Get(ctx)
			require.NoError(t, err)
			assert.True(t, v)
			assert.Equal(t, 2, calls)
		})
	}
}

func TestActivePrograms_StoreFailureFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	flag := NewActivePrograms(NewRedisStore(client, ""), func(context.Context) (bool, error) {
		return true, nil
	}, nil)

	v, err := flag.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, v)
}
