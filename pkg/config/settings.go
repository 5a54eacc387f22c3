package config

import (
	"fmt"
	"time"
)

// Settings 服务端完整配置
type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	Log      LogSettings      `mapstructure:"log"`
	Realtime RealtimeSettings `mapstructure:"realtime"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Store    StoreSettings    `mapstructure:"store"`
	Offline  OfflineSettings  `mapstructure:"offline"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Tracing  TracingSettings  `mapstructure:"tracing"`
	Sinks    SinkSettings     `mapstructure:"sinks"`
}

// ServerSettings HTTP 服务配置
type ServerSettings struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	OpsRate         float64       `mapstructure:"ops_rate"`
	OpsBurst        int           `mapstructure:"ops_burst"`
}

// LogSettings 日志配置
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	// Sampling 高频日志按秒采样，连接风暴时保护磁盘
	Sampling bool `mapstructure:"sampling"`
}

// RealtimeSettings 实时核心配置
type RealtimeSettings struct {
	MaxConnections      int           `mapstructure:"max_connections"`
	MaxMessageSize      int64         `mapstructure:"max_message_size"`
	MessageQueueSize    int           `mapstructure:"message_queue_size"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	DeadTimeout         time.Duration `mapstructure:"dead_timeout"`
	PresenceDebounce    time.Duration `mapstructure:"presence_debounce"`
	MaxContentLength    int           `mapstructure:"max_content_length"`
	MaxRoomSize         int           `mapstructure:"max_room_size"`
	ConnectRate         float64       `mapstructure:"connect_rate"`
	ConnectBurst        int           `mapstructure:"connect_burst"`
	ActionRate          float64       `mapstructure:"action_rate"`
	ActionBurst         int           `mapstructure:"action_burst"`
	DedupeCapacity      uint          `mapstructure:"dedupe_capacity"`
	DedupeFalsePositive float64       `mapstructure:"dedupe_false_positive"`
}

// AuthSettings 认证配置
type AuthSettings struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
	// AllowIDOnly 允许只凭 userId 建连（无 token），默认关闭
	AllowIDOnly bool `mapstructure:"allow_id_only"`
}

// StoreSettings 消息存储配置
type StoreSettings struct {
	Driver      string   `mapstructure:"driver"` // memory, sqlite, mysql, postgres, sqlserver
	DSN         string   `mapstructure:"dsn"`
	Replicas    []string `mapstructure:"replicas"`
	Fixtures    string   `mapstructure:"fixtures"`
	AutoMigrate bool     `mapstructure:"auto_migrate"`
	LogLevel    int      `mapstructure:"log_level"`
}

// OfflineSettings 离线队列配置
type OfflineSettings struct {
	Backend       string        `mapstructure:"backend"` // memory, redis
	Capacity      int           `mapstructure:"capacity"`
	Retention     time.Duration `mapstructure:"retention"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// RedisSettings Redis 连接配置，离线队列和在线状态缓存共用
type RedisSettings struct {
	Enabled    bool     `mapstructure:"enabled"`
	Mode       string   `mapstructure:"mode"` // standalone, cluster, sentinel
	Addr       string   `mapstructure:"addr"`
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	PoolSize   int      `mapstructure:"pool_size"`
}

// TracingSettings 链路追踪配置
type TracingSettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	Exporter     string  `mapstructure:"exporter"` // stdout, otlp, otlp-grpc, noop
	Endpoint     string  `mapstructure:"endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// SinkSettings 外部事件投递配置
type SinkSettings struct {
	Kafka KafkaSettings `mapstructure:"kafka"`
	AMQP  AMQPSettings  `mapstructure:"amqp"`
	NATS  NATSSettings  `mapstructure:"nats"`
}

type KafkaSettings struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AMQPSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type NATSSettings struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// DefaultValues 默认配置（点分隔 key，供 viper SetDefault 使用）
func DefaultValues() map[string]any {
	return map[string]any{
		"server.addr":             ":8080",
		"server.mode":             "release",
		"server.read_timeout":     "10s",
		"server.write_timeout":    "10s",
		"server.idle_timeout":     "60s",
		"server.shutdown_timeout": "10s",
		"server.ops_rate":         20.0,
		"server.ops_burst":        40,

		"log.level":    "info",
		"log.format":   "json",
		"log.sampling": false,

		"realtime.max_connections":       10000,
		"realtime.max_message_size":      64 * 1024,
		"realtime.message_queue_size":    256,
		"realtime.heartbeat_interval":    "30s",
		"realtime.dead_timeout":          "60s",
		"realtime.presence_debounce":     "1500ms",
		"realtime.max_content_length":    4000,
		"realtime.max_room_size":         1000,
		"realtime.connect_rate":          0.2,
		"realtime.connect_burst":         5,
		"realtime.action_rate":           10.0,
		"realtime.action_burst":          20,
		"realtime.dedupe_capacity":       100000,
		"realtime.dedupe_false_positive": 0.001,

		"auth.allow_id_only": false,

		"store.driver":       "memory",
		"store.auto_migrate": true,
		"store.log_level":    2,

		"offline.backend":        "memory",
		"offline.capacity":       100,
		"offline.retention":      "168h",
		"offline.purge_interval": "10m",
		"offline.key_prefix":     "linkup:offline:",

		"redis.mode":      "standalone",
		"redis.addr":      "localhost:6379",
		"redis.pool_size": 100,

		"tracing.enabled":       false,
		"tracing.service_name":  "linkup",
		"tracing.environment":   "development",
		"tracing.exporter":      "stdout",
		"tracing.sampling_rate": 1.0,

		"sinks.kafka.topic":         "linkup.events",
		"sinks.amqp.exchange":       "linkup.events",
		"sinks.nats.subject_prefix": "linkup",
	}
}

// LoadSettings 加载并校验配置，path 为空时只使用默认值与环境变量（前缀 LINKUP）
func LoadSettings(path string, opts ...Option) (*Settings, *Config, error) {
	base := []Option{WithDefaults(DefaultValues()), WithEnvPrefix("LINKUP")}
	if path != "" {
		base = append(base, WithConfigFile(path))
	}
	c := New(append(base, opts...)...)
	if err := c.Load(); err != nil {
		return nil, nil, err
	}

	var s Settings
	if err := c.Unmarshal(&s); err != nil {
		return nil, nil, ErrConfigInvalid.WithError(err)
	}
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	return &s, c, nil
}

// Validate 校验配置
func (s *Settings) Validate() error {
	invalid := func(format string, args ...any) error {
		return ErrConfigInvalid.WithMessage(fmt.Sprintf(format, args...))
	}

	r := s.Realtime
	if r.MaxConnections <= 0 {
		return invalid("realtime.max_connections must be positive, got %d", r.MaxConnections)
	}
	if r.HeartbeatInterval <= 0 {
		return invalid("realtime.heartbeat_interval must be positive, got %v", r.HeartbeatInterval)
	}
	if r.DeadTimeout <= r.HeartbeatInterval {
		return invalid("realtime.dead_timeout (%v) must be greater than heartbeat_interval (%v)",
			r.DeadTimeout, r.HeartbeatInterval)
	}
	if r.PresenceDebounce <= 0 {
		return invalid("realtime.presence_debounce must be positive, got %v", r.PresenceDebounce)
	}

	switch s.Store.Driver {
	case "memory":
	case "sqlite", "mysql", "postgres", "sqlserver":
		if s.Store.DSN == "" {
			return invalid("store.dsn is required for driver %s", s.Store.Driver)
		}
	default:
		return invalid("unsupported store.driver %q", s.Store.Driver)
	}

	switch s.Offline.Backend {
	case "memory":
	case "redis":
		if !s.Redis.Enabled {
			return invalid("offline.backend redis requires redis.enabled")
		}
	default:
		return invalid("unsupported offline.backend %q", s.Offline.Backend)
	}
	if s.Offline.Capacity <= 0 {
		return invalid("offline.capacity must be positive, got %d", s.Offline.Capacity)
	}

	if s.Auth.Secret == "" && !s.Auth.AllowIDOnly {
		return invalid("auth.secret is required unless auth.allow_id_only is set")
	}

	if s.Sinks.Kafka.Enabled && len(s.Sinks.Kafka.Brokers) == 0 {
		return invalid("sinks.kafka.brokers is required when kafka is enabled")
	}
	return nil
}
