// linkup 实时消息服务
//
//	linkup -config config.yaml
//
// 配置项也可通过 LINKUP_ 前缀的环境变量覆盖，例如 LINKUP_SERVER_ADDR=:9000。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tokmz/linkup"
	"github.com/tokmz/linkup/middleware"
	"github.com/tokmz/linkup/pkg/config"
	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/ratelimit"
)

func main() {
	path := flag.String("config", "", "配置文件路径（yaml/json/toml）")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, "linkup:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	// 热更新错误只会在 Watch 之后出现，此时 log 已就绪
	var log logger.Logger
	settings, cfg, err := config.LoadSettings(path, config.WithOnError(func(err error) {
		log.Warn("config reload failed", zap.Error(err))
	}))
	if err != nil {
		return err
	}

	log, err = newLogger(settings.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.ConfigFileUsed() != "" {
		cfg.OnChange(func() { reloadLogLevel(cfg, log) })
		if err := cfg.Watch(); err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	ctx := context.Background()
	deps, err := build(ctx, settings, log)
	if err != nil {
		return err
	}
	defer deps.close(log)

	opsLimiter := ratelimit.New(ratelimit.Config{
		Rate:  settings.Server.OpsRate,
		Burst: settings.Server.OpsBurst,
	})
	defer opsLimiter.Close()

	srv := settings.Server
	cors := middleware.DefaultCORSConfig()
	if len(srv.AllowedOrigins) > 0 {
		cors.AllowOrigins = srv.AllowedOrigins
	}

	engine := linkup.New(deps.hub,
		linkup.WithMode(srv.Mode),
		linkup.WithAddr(srv.Addr),
		linkup.WithReadHeaderTimeout(srv.ReadTimeout),
		linkup.WithIdleTimeout(srv.IdleTimeout),
		linkup.WithShutdownTimeout(srv.ShutdownTimeout),
		linkup.WithLogger(log),
		linkup.WithGatherer(deps.registry),
		linkup.WithMiddlewares(
			middleware.Tracing(),
			middleware.Logger(log),
		),
		linkup.WithOpsMiddlewares(
			middleware.CORS(cors),
			middleware.RateLimiter(opsLimiter, &middleware.RateLimiterConfig{Logger: log}),
			middleware.Timeout(srv.WriteTimeout),
		),
		linkup.WithAfterShutdown(func() { log.Info("linkup stopped") }),
	)

	return engine.Run(ctx)
}

// reloadLogLevel 配置文件变更后只热更新日志级别，其余配置需重启生效
func reloadLogLevel(cfg *config.Config, log logger.Logger) {
	level, err := logger.ParseLevel(cfg.GetString("log.level"))
	if err != nil {
		log.Warn("ignore invalid log level", zap.Error(err))
		return
	}
	if level != log.Level() {
		log.Info("log level changed", zap.Stringer("from", log.Level()), zap.Stringer("to", level))
		log.SetLevel(level)
	}
}
