package middleware

import (
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/linkup"
	"github.com/tokmz/linkup/pkg/logger"
)

// LoggerConfig 访问日志中间件配置
type LoggerConfig struct {
	// SkipFunc 跳过日志的函数
	SkipFunc func(c *linkup.Context) bool

	// ExcludePaths 排除的路径（默认 /healthz 和 /metrics）
	ExcludePaths []string
}

// DefaultLoggerConfig 返回默认配置
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		ExcludePaths: []string{"/healthz", "/metrics"},
	}
}

// Logger 创建访问日志中间件
// 记录请求方法、路径、客户端 IP、状态码、耗时，日志级别随状态码升级
func Logger(log logger.Logger, cfgs ...*LoggerConfig) linkup.HandlerFunc {
	cfg := DefaultLoggerConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	skip := pathSet(cfg.ExcludePaths)

	return func(c *linkup.Context) {
		if (cfg.SkipFunc != nil && cfg.SkipFunc(c)) || skip[c.Request().URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer().Status()
		fields := []zap.Field{
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		ctx := c.RequestContext()
		switch {
		case status >= 500:
			log.ErrorContext(ctx, "request", fields...)
		case status >= 400:
			log.WarnContext(ctx, "request", fields...)
		default:
			log.InfoContext(ctx, "request", fields...)
		}
	}
}

func pathSet(paths []string) map[string]bool {
	m := make(map[string]bool, len(paths))
	for _, p := range paths {
		m[p] = true
	}
	return m
}
