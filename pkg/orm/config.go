package orm

import "time"

// Driver 数据库驱动
type Driver string

const (
	MySQL      Driver = "mysql"
	PostgreSQL Driver = "postgres"
	SQLite     Driver = "sqlite"
	SQLServer  Driver = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Driver Driver // mysql, postgres, sqlite, sqlserver
	DSN    string

	// 连接池
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	PrepareStmt bool

	// 日志级别 (1:Silent 2:Error 3:Warn 4:Info)
	LogLevel      int
	SlowThreshold time.Duration

	// 只读副本 DSN，非空时启用 dbresolver
	Replicas      []string
	ReplicaPolicy string // random, round_robin

	// Tracing 注册 otel 插件
	Tracing bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver:          SQLite,
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		LogLevel:        2,
		SlowThreshold:   200 * time.Millisecond,
		ReplicaPolicy:   "random",
	}
}
