package cache

import "github.com/tokmz/linkup/pkg/errors"

var (
	ErrCacheNotFound      = errors.New(errors.KindNotFound, "CACHE_NOT_FOUND", "cache key not found")
	ErrCacheSerialization = errors.New(errors.KindInternal, "CACHE_SERIALIZATION", "cache serialization failed")
	ErrCacheInvalidConfig = errors.New(errors.KindInternal, "CACHE_INVALID_CONFIG", "cache invalid config")
	ErrCacheOperation     = errors.New(errors.KindInternal, "CACHE_OPERATION", "cache operation failed")
)
