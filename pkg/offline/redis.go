package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokmz/linkup/pkg/protocol"
)

// Redis 基于 List 的离线队列，每个用户一个 key
//
// RPUSH 保持入队顺序，LTRIM -cap -1 保留最新的 cap 条。
type Redis struct {
	client redis.UniversalClient
	cfg    Config
	now    func() time.Time
}

// NewRedis 创建 Redis 队列
func NewRedis(client redis.UniversalClient, cfg Config) *Redis {
	return &Redis{
		client: client,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

func (r *Redis) key(userID string) string {
	return r.cfg.KeyPrefix + userID
}

func (r *Redis) Enqueue(ctx context.Context, userID string, env *protocol.Envelope) error {
	b, err := json.Marshal(Entry{
		UserID:     userID,
		Envelope:   env,
		EnqueuedAt: r.now(),
	})
	if err != nil {
		return fmt.Errorf("offline: encode entry: %w", err)
	}

	key := r.key(userID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, b)
		pipe.LTrim(ctx, key, int64(-r.cfg.Capacity), -1)
		return nil
	})
	return err
}

func (r *Redis) Drain(ctx context.Context, userID string) ([]Entry, error) {
	key := r.key(userID)

	var lrange *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeEntries(lrange.Val()), nil
}

// purgeRetries WATCH 冲突后的重试次数，用尽后跳过该 key 留待下一轮
const purgeRetries = 5

func (r *Redis) PurgeStale(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	cutoff := now.Add(-maxAge)
	removed := 0

	iter := r.client.Scan(ctx, 0, r.cfg.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := r.purgeKey(ctx, iter.Val(), cutoff)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, iter.Err()
}

// purgeKey 在 WATCH 下读取并裁剪过期前缀，期间 key 被 Drain 或 Enqueue 改动则整体重试
func (r *Redis) purgeKey(ctx context.Context, key string, cutoff time.Time) (int, error) {
	for range purgeRetries {
		stale := 0
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			vals, err := tx.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return err
			}

			stale = staleCount(vals, cutoff)
			if stale == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LTrim(ctx, key, int64(stale), -1)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return stale, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return 0, err
		}
	}
	return 0, nil
}

// staleCount 按入队顺序统计早于 cutoff 的前缀长度，无法解析的条目一并计入
func staleCount(vals []string, cutoff time.Time) int {
	stale := 0
	for _, v := range vals {
		var e Entry
		if json.Unmarshal([]byte(v), &e) == nil && !e.EnqueuedAt.Before(cutoff) {
			break
		}
		stale++
	}
	return stale
}

func (r *Redis) Len(ctx context.Context, userID string) (int, error) {
	n, err := r.client.LLen(ctx, r.key(userID)).Result()
	return int(n), err
}

func decodeEntries(vals []string) []Entry {
	if len(vals) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}
