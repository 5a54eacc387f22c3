package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tokmz/linkup/pkg/errors"
)

const lastSeenPrefix = "presence:lastseen:"

// PresenceStore 记录用户最后在线时间，用户下线后仍可查询
type PresenceStore struct {
	cache Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewPresenceStore ttl <= 0 时不过期
func NewPresenceStore(c Cache, ttl time.Duration) *PresenceStore {
	if ttl <= 0 {
		ttl = -1
	}
	return &PresenceStore{cache: c, ttl: ttl}
}

// SetLastSeen 写入最后在线时间（Unix 毫秒）
func (p *PresenceStore) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	return p.cache.Set(ctx, lastSeenPrefix+userID, at.UnixMilli(), p.ttl)
}

// LastSeen 读取最后在线时间，同一用户的并发查询合并为一次
func (p *PresenceStore) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	v, err, _ := p.group.Do(userID, func() (any, error) {
		var ms int64
		if err := p.cache.Get(ctx, lastSeenPrefix+userID, &ms); err != nil {
			return int64(0), err
		}
		return ms, nil
	})
	if errors.Is(err, ErrCacheNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(v.(int64)), true, nil
}
