// Package cache 键值缓存，提供内存与 Redis 两种实现
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache 缓存接口
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	Ping(ctx context.Context) error
	Close() error
}

// Serializer 序列化接口
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer 默认序列化器
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type options struct {
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
}

// Option 缓存选项
type Option func(*options)

// WithSerializer 设置序列化器
func WithSerializer(s Serializer) Option {
	return func(o *options) {
		o.serializer = s
	}
}

// WithKeyPrefix 设置键前缀
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

// WithDefaultTTL ttl 传 0 时使用的过期时间，<0 表示不过期
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.defaultTTL = ttl
	}
}

func buildOptions(opts []Option) options {
	o := options{
		serializer: JSONSerializer{},
		defaultTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) key(k string) string {
	return o.keyPrefix + k
}

func (o options) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return o.defaultTTL
	}
	return ttl
}
