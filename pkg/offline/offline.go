// Package offline 为暂时不可达的用户缓存事件
//
// 每个用户一条有界 FIFO 队列，超出容量时淘汰最早的条目。
// 上线时一次性 Drain，过期条目由 PurgeStale 定期清理。
package offline

import (
	"context"
	"time"

	"github.com/tokmz/linkup/pkg/protocol"
)

// Queue 离线队列
type Queue interface {
	// Enqueue 追加一条事件，超出容量淘汰最早的条目
	Enqueue(ctx context.Context, userID string, env *protocol.Envelope) error
	// Drain 按入队顺序返回全部条目并清空队列
	Drain(ctx context.Context, userID string) ([]Entry, error)
	// PurgeStale 删除早于 now-maxAge 的条目，返回删除数量
	PurgeStale(ctx context.Context, now time.Time, maxAge time.Duration) (int, error)
	// Len 当前排队数量
	Len(ctx context.Context, userID string) (int, error)
}

// Entry 排队事件
type Entry struct {
	UserID     string             `json:"userId"`
	Envelope   *protocol.Envelope `json:"envelope"`
	EnqueuedAt time.Time          `json:"enqueuedAt"`
}

// Config 队列配置
type Config struct {
	Capacity  int    `json:"capacity" yaml:"capacity" mapstructure:"capacity"`       // 每个用户的最大条目数
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"` // Redis key 前缀
}

const (
	DefaultCapacity  = 100
	DefaultKeyPrefix = "linkup:offline:"
)

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Capacity:  DefaultCapacity,
		KeyPrefix: DefaultKeyPrefix,
	}
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	return c
}
