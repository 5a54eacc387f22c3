package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/linkup"
	"github.com/tokmz/linkup/pkg/errors"
	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/ratelimit"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// KeyFunc 限流 key（默认客户端 IP）
	KeyFunc func(c *linkup.Context) string

	// ExcludePaths 排除的路径（不限流）
	ExcludePaths []string

	// Logger 日志实例（默认不输出）
	Logger logger.Logger
}

// RateLimiter 创建令牌桶限流中间件，limiter 的生命周期由调用方管理
// 超限时返回 429 并带 Retry-After
func RateLimiter(limiter *ratelimit.Limiter, cfgs ...*RateLimiterConfig) linkup.HandlerFunc {
	cfg := &RateLimiterConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *linkup.Context) string { return c.ClientIP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	skip := pathSet(cfg.ExcludePaths)

	return func(c *linkup.Context) {
		if skip[c.Request().URL.Path] {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		if !limiter.Allow(key) {
			wait := time.Until(limiter.ResetAt(key))
			cfg.Logger.Warn("rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request().URL.Path),
			)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(max(wait.Seconds(), 1)))))
			c.Fail(http.StatusTooManyRequests, errors.ErrRateLimited.Code, errors.ErrRateLimited.Message)
			c.Abort()
			return
		}

		c.Next()
	}
}
