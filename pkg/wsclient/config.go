package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/protocol"
)

// Fallback 非实时兜底通道，降级期间的发送改走这里
type Fallback interface {
	Send(ctx context.Context, env *protocol.Envelope) error
}

// FallbackFunc 函数适配器
type FallbackFunc func(ctx context.Context, env *protocol.Envelope) error

func (f FallbackFunc) Send(ctx context.Context, env *protocol.Envelope) error { return f(ctx, env) }

// Config 控制器配置
type Config struct {
	URL    string // ws(s)://host/ws
	UserID string
	Token  string // 以 Authorization: Bearer 发送

	MaxAttempts      int
	RetryInterval    time.Duration
	Multiplier       float64
	MaxRetryInterval time.Duration

	HeartbeatInterval time.Duration
	PongGrace         time.Duration

	// FallbackAfter 连续重连次数达到该值即进入降级
	FallbackAfter int
	PendingLimit  int

	Dialer   Dialer
	Fallback Fallback
	Logger   logger.Logger

	// 回调在后台协程中同步执行，不能在回调里调用 Close
	OnStateChange    func(from, to State)
	OnAttempt        func(n int)
	OnQueueDelivered func(queued int)
	OnDegraded       func(degraded bool)
	OnMessage        func(env *protocol.Envelope)
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       10,
		RetryInterval:     time.Second,
		Multiplier:        2,
		MaxRetryInterval:  30 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		PongGrace:         10 * time.Second,
		FallbackAfter:     3,
		PendingLimit:      100,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("wsclient: url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("wsclient: invalid url: %w", err)
	}
	if c.UserID == "" {
		return errors.New("wsclient: user id is required")
	}
	if c.MaxAttempts < 0 {
		return errors.New("wsclient: max attempts must be >= 0")
	}
	if c.RetryInterval <= 0 || c.MaxRetryInterval < c.RetryInterval {
		return errors.New("wsclient: invalid retry interval")
	}
	if c.Multiplier < 1 {
		return errors.New("wsclient: multiplier must be >= 1")
	}
	if c.HeartbeatInterval <= 0 || c.PongGrace <= 0 {
		return errors.New("wsclient: heartbeat interval and pong grace must be positive")
	}
	if c.FallbackAfter < 1 {
		return errors.New("wsclient: fallback after must be >= 1")
	}
	if c.PendingLimit < 0 {
		return errors.New("wsclient: pending limit must be >= 0")
	}
	return nil
}

// endpoint 拼接 userId 查询参数
func (c *Config) endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("userId", c.UserID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// newBackOff 第 n 次重连等待 RetryInterval*Multiplier^(n-1)，上限 MaxRetryInterval
func (c *Config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryInterval
	b.Multiplier = c.Multiplier
	b.MaxInterval = c.MaxRetryInterval
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Option 配置选项
type Option func(*Config)

// WithToken 设置鉴权 token
func WithToken(token string) Option {
	return func(c *Config) { c.Token = token }
}

// WithRetry 设置重连策略
func WithRetry(maxAttempts int, interval, maxInterval time.Duration, multiplier float64) Option {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.RetryInterval = interval
		c.MaxRetryInterval = maxInterval
		c.Multiplier = multiplier
	}
}

// WithHeartbeat 设置心跳间隔与 pong 宽限
func WithHeartbeat(interval, grace time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.PongGrace = grace
	}
}

// WithFallback 设置兜底通道与降级阈值
func WithFallback(fb Fallback, after int) Option {
	return func(c *Config) {
		c.Fallback = fb
		c.FallbackAfter = after
	}
}

// WithPendingLimit 设置未连接期间的待发上限
func WithPendingLimit(n int) Option {
	return func(c *Config) { c.PendingLimit = n }
}

// WithDialer 替换拨号器
func WithDialer(d Dialer) Option {
	return func(c *Config) { c.Dialer = d }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithOnStateChange 状态变化回调
func WithOnStateChange(fn func(from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

// WithOnAttempt 重连尝试回调
func WithOnAttempt(fn func(n int)) Option {
	return func(c *Config) { c.OnAttempt = fn }
}

// WithOnQueueDelivered 离线消息投递完成回调
func WithOnQueueDelivered(fn func(queued int)) Option {
	return func(c *Config) { c.OnQueueDelivered = fn }
}

// WithOnDegraded 降级状态变化回调
func WithOnDegraded(fn func(degraded bool)) Option {
	return func(c *Config) { c.OnDegraded = fn }
}

// WithOnMessage 入站报文回调，pong 不会回调
func WithOnMessage(fn func(env *protocol.Envelope)) Option {
	return func(c *Config) { c.OnMessage = fn }
}
