package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache Redis 缓存，不拥有客户端，Close 不关闭连接
type redisCache struct {
	client redis.UniversalClient
	opts   options
}

// NewRedis 基于已有客户端创建缓存
func NewRedis(client redis.UniversalClient, opts ...Option) Cache {
	return &redisCache{client: client, opts: buildOptions(opts)}
}

func (r *redisCache) Get(ctx context.Context, key string, value any) error {
	data, err := r.client.Get(ctx, r.opts.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheNotFound
	}
	if err != nil {
		return ErrCacheOperation.WithError(err)
	}
	if err := r.opts.serializer.Unmarshal(data, value); err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	return nil
}

func (r *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := r.opts.serializer.Marshal(value)
	if err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	ttl = r.opts.ttl(ttl)
	if ttl < 0 {
		ttl = 0 // redis: 0 表示不过期
	}
	if err := r.client.Set(ctx, r.opts.key(key), b, ttl).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.opts.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.opts.key(key)).Result()
	if err != nil {
		return false, ErrCacheOperation.WithError(err)
	}
	return n > 0, nil
}

// TTL 不过期的键返回 -1
func (r *redisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.opts.key(key)).Result()
	if err != nil {
		return 0, ErrCacheOperation.WithError(err)
	}
	// go-redis: -2 键不存在，-1 不过期
	switch ttl {
	case -2:
		return 0, ErrCacheNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}

func (r *redisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

func (r *redisCache) Close() error {
	return nil
}

func (r *redisCache) String() string {
	return fmt.Sprintf("RedisCache(prefix=%s)", r.opts.keyPrefix)
}
