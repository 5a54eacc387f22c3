package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/linkup"
	"github.com/tokmz/linkup/pkg/auth"
	"github.com/tokmz/linkup/pkg/cache"
	"github.com/tokmz/linkup/pkg/config"
	"github.com/tokmz/linkup/pkg/eventsink"
	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/offline"
	"github.com/tokmz/linkup/pkg/orm"
	"github.com/tokmz/linkup/pkg/realtime"
	"github.com/tokmz/linkup/pkg/store"
	"github.com/tokmz/linkup/pkg/tracing"
)

// components 装配好的服务依赖，closers 按逆序释放
type components struct {
	hub      *realtime.Hub
	registry *prometheus.Registry
	closers  []closer
}

type closer struct {
	name string
	fn   func() error
}

func (c *components) onClose(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

func (c *components) close(log logger.Logger) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].fn(); err != nil {
			log.Warn("close failed", zap.String("component", c.closers[i].name), zap.Error(err))
		}
	}
}

func newLogger(s config.LogSettings) (logger.Logger, error) {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}

	opts := []logger.Option{
		logger.WithLevel(level),
		logger.WithFormat(logger.Format(s.Format)),
		logger.WithConsoleOutput(),
		logger.WithStacktrace(true),
	}
	if s.Sampling {
		opts = append(opts, logger.WithSampling(&logger.SamplingConfig{}))
	}
	if s.File != "" {
		opts = append(opts, logger.WithRotateOutput(&logger.RotateConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSize,
			MaxAge:     s.MaxAge,
			MaxBackups: s.MaxBackups,
			Compress:   s.Compress,
		}))
	}
	return logger.NewWithOptions(opts...)
}

// build 按配置装配 Hub 及其依赖，失败时释放已创建的资源
func build(ctx context.Context, s *config.Settings, log logger.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.close(log)
		}
	}()

	provider, err := tracing.New(ctx, tracingConfig(s.Tracing))
	if err != nil {
		return nil, err
	}
	c.onClose("tracing", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return provider.Shutdown(ctx)
	})

	var rdb redis.UniversalClient
	if s.Redis.Enabled {
		if rdb, err = newRedis(s.Redis); err != nil {
			return nil, err
		}
		c.onClose("redis", rdb.Close)
	}

	lastSeen := newPresenceStore(s, rdb)

	st, err := newStore(ctx, s, log, c)
	if err != nil {
		return nil, err
	}

	queue, err := newQueue(s.Offline, rdb)
	if err != nil {
		return nil, err
	}

	sink, err := newSink(s.Sinks, log)
	if err != nil {
		return nil, err
	}
	c.onClose("sinks", sink.Close)

	verifier := auth.NewJWTVerifier(s.Auth.Secret,
		auth.WithIssuer(s.Auth.Issuer),
		auth.WithAllowIDOnly(s.Auth.AllowIDOnly),
		auth.WithLogger(log.Named("auth")),
	)
	if s.Auth.AllowIDOnly {
		log.Warn("auth.allow_id_only is enabled, connections without a token are accepted")
	}

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.hub, err = realtime.NewHub(realtime.Deps{
		Store:    st,
		Queue:    queue,
		Verifier: verifier,
		Logger:   log,
		Metrics:  realtime.NewPrometheusMetrics(c.registry),
		Sink:     sink,
		LastSeen: lastSeen,
	}, hubOptions(s)...)
	if err != nil {
		return nil, err
	}

	log.Info("linkup components ready",
		zap.String("version", linkup.Version),
		zap.String("store", s.Store.Driver),
		zap.String("offline", s.Offline.Backend),
		zap.Bool("redis", s.Redis.Enabled),
		zap.Bool("tracing", s.Tracing.Enabled),
	)
	return c, nil
}

func tracingConfig(s config.TracingSettings) *tracing.Config {
	cfg := tracing.DefaultConfig()
	cfg.Enabled = s.Enabled
	cfg.ServiceName = s.ServiceName
	cfg.ServiceVersion = linkup.Version
	cfg.Environment = s.Environment
	cfg.Exporter = s.Exporter
	cfg.Endpoint = s.Endpoint
	cfg.Insecure = s.Insecure
	cfg.SamplingRate = s.SamplingRate
	return cfg
}

func newRedis(s config.RedisSettings) (redis.UniversalClient, error) {
	rdb, err := cache.NewRedisClient(cache.RedisConfig{
		Mode:       cache.RedisMode(s.Mode),
		Addr:       s.Addr,
		Addrs:      s.Addrs,
		MasterName: s.MasterName,
		Username:   s.Username,
		Password:   s.Password,
		DB:         s.DB,
		PoolSize:   s.PoolSize,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// newPresenceStore 最后在线时间与离线条目保留同样久
func newPresenceStore(s *config.Settings, rdb redis.UniversalClient) *cache.PresenceStore {
	var c cache.Cache
	if rdb != nil {
		c = cache.NewRedis(rdb, cache.WithKeyPrefix("linkup:"))
	} else {
		c = cache.NewMemory(10 * time.Minute)
	}
	if s.Tracing.Enabled {
		c = cache.NewTracing(c)
	}
	return cache.NewPresenceStore(c, s.Offline.Retention)
}

func newStore(ctx context.Context, s *config.Settings, log logger.Logger, c *components) (store.Store, error) {
	var (
		st     store.Store
		seeder store.Seeder
	)

	if s.Store.Driver == "memory" {
		mem := store.NewMemory()
		st, seeder = mem, mem
	} else {
		cfg := orm.DefaultConfig()
		cfg.Driver = orm.Driver(s.Store.Driver)
		cfg.DSN = s.Store.DSN
		cfg.Replicas = s.Store.Replicas
		cfg.LogLevel = s.Store.LogLevel
		cfg.Tracing = s.Tracing.Enabled

		db, err := orm.New(cfg, log.Named("orm"))
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		c.onClose("store", sqlDB.Close)

		g := store.NewGorm(db)
		if s.Store.AutoMigrate {
			if err := g.AutoMigrate(); err != nil {
				return nil, err
			}
		}
		st, seeder = g, g
	}

	if s.Store.Fixtures != "" {
		fixtures, err := store.LoadFixtures(s.Store.Fixtures)
		if err != nil {
			return nil, err
		}
		if err := fixtures.Apply(ctx, seeder); err != nil {
			return nil, err
		}
		log.Info("fixtures applied", zap.Int("conversations", len(fixtures.Conversations)))
	}
	return st, nil
}

func newQueue(s config.OfflineSettings, rdb redis.UniversalClient) (offline.Queue, error) {
	cfg := offline.Config{Capacity: s.Capacity, KeyPrefix: s.KeyPrefix}
	switch s.Backend {
	case "", "memory":
		return offline.NewMemory(cfg), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("offline.backend=redis requires redis.enabled")
		}
		return offline.NewRedis(rdb, cfg), nil
	default:
		return nil, fmt.Errorf("unknown offline backend %q", s.Backend)
	}
}

// newSink 组合已启用的外部事件投递，全部关闭时返回 Nop
func newSink(s config.SinkSettings, log logger.Logger) (eventsink.Sink, error) {
	var sinks eventsink.Multi
	fail := func(err error) (eventsink.Sink, error) {
		_ = sinks.Close()
		return nil, err
	}

	if s.Kafka.Enabled {
		k, err := eventsink.NewKafka(s.Kafka.Brokers, s.Kafka.Topic)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, k)
	}
	if s.AMQP.Enabled {
		a, err := eventsink.NewAMQP(s.AMQP.URL, s.AMQP.Exchange)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, a)
	}
	if s.NATS.Enabled {
		n, err := eventsink.NewNATS(s.NATS.URL, s.NATS.SubjectPrefix)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, n)
	}

	if len(sinks) == 0 {
		return eventsink.Nop{}, nil
	}
	log.Info("event sinks enabled", zap.Int("count", len(sinks)))
	return sinks, nil
}

func hubOptions(s *config.Settings) []realtime.Option {
	r := s.Realtime
	opts := []realtime.Option{
		realtime.WithMaxConnections(r.MaxConnections),
		realtime.WithMessageSizeLimit(r.MaxMessageSize),
		realtime.WithMessageQueueSize(r.MessageQueueSize),
		realtime.WithHeartbeat(r.HeartbeatInterval, r.DeadTimeout),
		realtime.WithPresenceDebounce(r.PresenceDebounce),
		realtime.WithLimits(r.MaxContentLength, r.MaxRoomSize),
		realtime.WithConnectRate(r.ConnectRate, r.ConnectBurst),
		realtime.WithActionRate(r.ActionRate, r.ActionBurst),
		realtime.WithDedupe(r.DedupeCapacity, r.DedupeFalsePositive),
		realtime.WithOfflineRetention(s.Offline.Retention, s.Offline.PurgeInterval),
	}
	if len(s.Server.AllowedOrigins) > 0 {
		opts = append(opts, realtime.WithCheckOriginWhitelist(s.Server.AllowedOrigins))
	}
	return opts
}
