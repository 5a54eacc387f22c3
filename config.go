package linkup

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokmz/linkup/pkg/logger"
)

// ServerConfig 服务器配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string

	// ReadHeaderTimeout 读取请求头超时
	ReadHeaderTimeout time.Duration

	// IdleTimeout 空闲超时
	IdleTimeout time.Duration

	// MaxHeaderBytes 最大请求头字节数
	MaxHeaderBytes int
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 10 秒
	Timeout time.Duration

	// BeforeShutdown 关机前回调
	BeforeShutdown func()

	// AfterShutdown 关机后回调
	AfterShutdown func()
}

// Config 应用配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string

	Server   ServerConfig
	Shutdown ShutdownConfig

	// TrustedProxies 信任的代理 IP
	TrustedProxies []string

	Logger logger.Logger

	// Gatherer /metrics 暴露的指标来源，nil 时不注册 /metrics
	Gatherer prometheus.Gatherer

	// Banner 启动时打印 banner 和路由表
	Banner bool

	// Middlewares 全局中间件，在路由注册前安装
	Middlewares []HandlerFunc

	// OpsMiddlewares 仅作用于 /ops 路由组
	OpsMiddlewares []HandlerFunc
}

// Option 配置选项函数
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Mode: gin.ReleaseMode,
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		Banner: true,
	}
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

// WithReadHeaderTimeout 设置读取请求头超时
func WithReadHeaderTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.ReadHeaderTimeout = timeout
	}
}

// WithIdleTimeout 设置空闲超时
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.IdleTimeout = timeout
	}
}

// WithShutdownTimeout 设置关机超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithGatherer 暴露 /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *Config) {
		c.Gatherer = g
	}
}

// WithBanner 是否打印 banner
func WithBanner(enabled bool) Option {
	return func(c *Config) {
		c.Banner = enabled
	}
}

// WithMiddlewares 追加全局中间件
func WithMiddlewares(middlewares ...HandlerFunc) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, middlewares...)
	}
}

// WithOpsMiddlewares 追加 /ops 路由组中间件
func WithOpsMiddlewares(middlewares ...HandlerFunc) Option {
	return func(c *Config) {
		c.OpsMiddlewares = append(c.OpsMiddlewares, middlewares...)
	}
}
