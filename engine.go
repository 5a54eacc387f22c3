// Package linkup 实时消息服务的 HTTP 宿主。
//
// Engine 基于 gin 挂载 WebSocket 入口、健康检查、运维查询和 Prometheus 指标，
// 并负责 HTTP 服务与 Hub 后台任务的启动和优雅关机。
package linkup

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/realtime"
)

type Engine struct {
	config *Config
	engine *gin.Engine
	hub    *realtime.Hub
	log    logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener

	shutdownOnce sync.Once
	shutdownErr  error
}

// New 创建 Engine，路由在此注册，全局中间件需通过 WithMiddlewares 传入
func New(hub *realtime.Hub, opts ...Option) *Engine {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	// gin.SetMode 是全局操作，进程内只应创建一个 Engine
	if gin.Mode() == gin.DebugMode || config.Mode != gin.DebugMode {
		gin.SetMode(config.Mode)
	}
	silenceGin()

	ginEngine := gin.New()
	ginEngine.Use(wrap(Recovery(config.Logger)))

	e := &Engine{
		config: config,
		engine: ginEngine,
		hub:    hub,
		log:    config.Logger.Named("http"),
	}

	if config.TrustedProxies != nil {
		if err := ginEngine.SetTrustedProxies(config.TrustedProxies); err != nil {
			e.log.Warn("set trusted proxies failed", zap.Error(err))
		}
	}

	ginEngine.Use(WrapHandlers(config.Middlewares...)...)
	e.registerRoutes()
	return e
}

// Group 返回路由组，用于挂载额外的接口
func (e *Engine) Group(path string, middlewares ...HandlerFunc) *RouterGroup {
	return &RouterGroup{group: e.engine.Group(path, WrapHandlers(middlewares...)...)}
}

// Handler 返回底层 http.Handler（测试或自定义 Server 使用）
func (e *Engine) Handler() http.Handler {
	return e.engine
}

// Addr 返回实际监听地址，Run 之前为空
func (e *Engine) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// Run 启动 HTTP 服务与 Hub 后台任务，阻塞直到 ctx 取消、收到 SIGINT/SIGTERM 或服务出错
func (e *Engine) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", e.config.Server.Addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           e.engine,
		ReadHeaderTimeout: e.config.Server.ReadHeaderTimeout,
		IdleTimeout:       e.config.Server.IdleTimeout,
		MaxHeaderBytes:    e.config.Server.MaxHeaderBytes,
	}
	e.mu.Lock()
	e.server, e.listener = server, ln
	e.mu.Unlock()

	if e.config.Banner {
		e.printBanner(ln.Addr().String())
	}
	e.log.Info("server started", zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return e.hub.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		e.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), e.config.Shutdown.Timeout)
		defer cancel()
		return e.Shutdown(sctx)
	})

	err = g.Wait()
	if err == nil {
		e.log.Info("server exited")
	}
	return err
}

// Shutdown 先以 1001 关闭全部 WebSocket 会话，再关闭 HTTP 服务
//
// 接管后的 WebSocket 连接不受 http.Server.Shutdown 管理，所以 Hub 先行。
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		if e.config.Shutdown.BeforeShutdown != nil {
			e.config.Shutdown.BeforeShutdown()
		}

		hubErr := e.hub.Shutdown(ctx)

		var serverErr error
		e.mu.Lock()
		server := e.server
		e.mu.Unlock()
		if server != nil {
			serverErr = server.Shutdown(ctx)
		}

		if e.config.Shutdown.AfterShutdown != nil {
			e.config.Shutdown.AfterShutdown()
		}
		e.shutdownErr = stderrors.Join(hubErr, serverErr)
		if e.shutdownErr != nil {
			e.log.Error("shutdown incomplete", zap.Error(e.shutdownErr))
		}
	})
	return e.shutdownErr
}
