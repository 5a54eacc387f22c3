package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "linkup.cache"

// tracedCache 为每次操作创建 client span
type tracedCache struct {
	Cache
}

// NewTracing 包装缓存，启用链路追踪时使用
func NewTracing(c Cache) Cache {
	return &tracedCache{Cache: c}
}

func (t *tracedCache) trace(ctx context.Context, op, key string, fn func(context.Context) error) error {
	// Provider 可能晚于缓存初始化，每次取 tracer
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.operation", op),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil && err != ErrCacheNotFound {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("cache.hit", err == nil))
	return err
}

func (t *tracedCache) Get(ctx context.Context, key string, value any) error {
	return t.trace(ctx, "get", key, func(ctx context.Context) error {
		return t.Cache.Get(ctx, key, value)
	})
}

func (t *tracedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return t.trace(ctx, "set", key, func(ctx context.Context) error {
		return t.Cache.Set(ctx, key, value, ttl)
	})
}

func (t *tracedCache) Delete(ctx context.Context, keys ...string) error {
	key := ""
	if len(keys) > 0 {
		key = keys[0]
	}
	return t.trace(ctx, "delete", key, func(ctx context.Context) error {
		return t.Cache.Delete(ctx, keys...)
	})
}

func (t *tracedCache) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := t.trace(ctx, "exists", key, func(ctx context.Context) error {
		var err error
		ok, err = t.Cache.Exists(ctx, key)
		return err
	})
	return ok, err
}
