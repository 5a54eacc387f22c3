package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/errors"
)

func newCaches(t *testing.T) (map[string]Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Cache{
		"memory": NewMemory(time.Minute, WithKeyPrefix("test:")),
		"redis":  NewTracing(NewRedis(client, WithKeyPrefix("test:"))),
	}, mr
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	caches, _ := newCaches(t)

	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			type profile struct {
				ID   string
				Name string
			}

			require.NoError(t, c.Set(ctx, "p1", profile{ID: "u1", Name: "Alice"}, time.Minute))

			var got profile
			require.NoError(t, c.Get(ctx, "p1", &got))
			assert.Equal(t, "Alice", got.Name)

			ok, err := c.Exists(ctx, "p1")
			require.NoError(t, err)
			assert.True(t, ok)

			ttl, err := c.TTL(ctx, "p1")
			require.NoError(t, err)
			assert.Greater(t, ttl, time.Duration(0))

			require.NoError(t, c.Delete(ctx, "p1"))
			err = c.Get(ctx, "p1", &got)
			assert.True(t, errors.Is(err, ErrCacheNotFound))

			_, err = c.TTL(ctx, "p1")
			assert.True(t, errors.Is(err, ErrCacheNotFound))

			require.NoError(t, c.Set(ctx, "forever", 1, -1))
			ttl, err = c.TTL(ctx, "forever")
			require.NoError(t, err)
			assert.Equal(t, time.Duration(-1), ttl)

			assert.NoError(t, c.Ping(ctx))
		})
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	caches, mr := newCaches(t)
	require.NoError(t, caches["redis"].Set(context.Background(), "k", "v", 0))
	assert.True(t, mr.Exists("test:k"))
}

func TestPresenceStore(t *testing.T) {
	ctx := context.Background()
	caches, _ := newCaches(t)

	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			p := NewPresenceStore(c, 0)

			_, ok, err := p.LastSeen(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, ok)

			at := time.UnixMilli(1_700_000_000_123)
			require.NoError(t, p.SetLastSeen(ctx, "u1", at))

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					got, ok, err := p.LastSeen(ctx, "u1")
					assert.NoError(t, err)
					assert.True(t, ok)
					assert.True(t, at.Equal(got))
				}()
			}
			wg.Wait()
		})
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = NewRedisClient(RedisConfig{Mode: RedisCluster})
	assert.Error(t, err)
	_, err = NewRedisClient(RedisConfig{Mode: RedisSentinel, Addrs: []string{"a:1"}})
	assert.Error(t, err)
	_, err = NewRedisClient(RedisConfig{Mode: "bogus"})
	assert.Error(t, err)
}
