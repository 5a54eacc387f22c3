package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCache 进程内缓存
type memoryCache struct {
	cache *gocache.Cache
	opts  options
}

// NewMemory 创建内存缓存，cleanup 为过期条目的清理间隔
func NewMemory(cleanup time.Duration, opts ...Option) Cache {
	o := buildOptions(opts)
	exp := o.defaultTTL
	if exp < 0 {
		exp = gocache.NoExpiration
	}
	return &memoryCache{
		cache: gocache.New(exp, cleanup),
		opts:  o,
	}
}

func (m *memoryCache) Get(_ context.Context, key string, value any) error {
	data, found := m.cache.Get(m.opts.key(key))
	if !found {
		return ErrCacheNotFound
	}
	b, ok := data.([]byte)
	if !ok {
		return ErrCacheSerialization.WithMessage("invalid cache data type")
	}
	if err := m.opts.serializer.Unmarshal(b, value); err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	return nil
}

func (m *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := m.opts.serializer.Marshal(value)
	if err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	ttl = m.opts.ttl(ttl)
	if ttl < 0 {
		ttl = gocache.NoExpiration
	}
	m.cache.Set(m.opts.key(key), b, ttl)
	return nil
}

func (m *memoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.cache.Delete(m.opts.key(key))
	}
	return nil
}

func (m *memoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, found := m.cache.Get(m.opts.key(key))
	return found, nil
}

// TTL 不过期的键返回 -1
func (m *memoryCache) TTL(_ context.Context, key string) (time.Duration, error) {
	_, expiration, found := m.cache.GetWithExpiration(m.opts.key(key))
	if !found {
		return 0, ErrCacheNotFound
	}
	if expiration.IsZero() {
		return -1, nil
	}
	return time.Until(expiration), nil
}

func (m *memoryCache) Ping(context.Context) error {
	return nil
}

func (m *memoryCache) Close() error {
	m.cache.Flush()
	return nil
}

func (m *memoryCache) String() string {
	return fmt.Sprintf("MemoryCache(prefix=%s, items=%d)", m.opts.keyPrefix, m.cache.ItemCount())
}
