package realtime

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Config 实时核心配置
type Config struct {
	// 连接
	MaxConnections   int           // 最大连接数，超出时握手返回 503
	MaxMessageSize   int64         // 单个报文上限，超出返回 ENVELOPE_TOO_LARGE
	MessageQueueSize int           // 每个连接的发送缓冲
	WriteWait        time.Duration // 单次写超时
	MaxInvalidFrames int           // 连续无效报文上限，达到后以 1008 关闭

	// 心跳
	HeartbeatInterval time.Duration // 服务端 ping 与扫描间隔
	DeadTimeout       time.Duration // 超过此时长无心跳视为死连接

	// 在线状态
	PresenceDebounce time.Duration

	// 消息
	MaxContentLength int // 按字符计

	// 房间与广播
	MaxRoomSize       int
	ParallelThreshold int // 成员数超过此值时并发发送
	BroadcastWorkers  int

	// 限流
	ConnectRate  float64 // 每用户每秒建连次数
	ConnectBurst int
	ActionRate   float64 // 每连接每秒 send-message/typing/join-room 次数
	ActionBurst  int

	// 重复发送抑制
	DedupeCapacity      uint
	DedupeFalsePositive float64

	// 离线队列
	OfflineRetention time.Duration
	PurgeInterval    time.Duration

	// 事件总线
	EventWorkers   int
	EventQueueSize int

	Upgrader UpgraderConfig
}

// UpgraderConfig Upgrader 配置
type UpgraderConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	HandshakeTimeout  time.Duration
	EnableCompression bool
	AllowedOrigins    []string                 // 空时只允许同源和无 Origin 的客户端
	CheckOrigin       func(*http.Request) bool // 优先于 AllowedOrigins
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:      10000,
		MaxMessageSize:      64 * 1024,
		MessageQueueSize:    256,
		WriteWait:           10 * time.Second,
		MaxInvalidFrames:    10,
		HeartbeatInterval:   30 * time.Second,
		DeadTimeout:         60 * time.Second,
		PresenceDebounce:    1500 * time.Millisecond,
		MaxContentLength:    4000,
		MaxRoomSize:         1000,
		ParallelThreshold:   64,
		BroadcastWorkers:    16,
		ConnectRate:         0.2,
		ConnectBurst:        5,
		ActionRate:          10,
		ActionBurst:         20,
		DedupeCapacity:      100000,
		DedupeFalsePositive: 0.001,
		OfflineRetention:    7 * 24 * time.Hour,
		PurgeInterval:       10 * time.Minute,
		EventWorkers:        4,
		EventQueueSize:      1000,
		Upgrader: UpgraderConfig{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MaxConnections must be positive, got %d", c.MaxConnections)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MaxMessageSize must be positive, got %d", c.MaxMessageSize)
	}
	if c.MessageQueueSize <= 0 {
		return fmt.Errorf("MessageQueueSize must be positive, got %d", c.MessageQueueSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.DeadTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("DeadTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.DeadTimeout, c.HeartbeatInterval)
	}
	if c.PresenceDebounce <= 0 {
		return fmt.Errorf("PresenceDebounce must be positive, got %v", c.PresenceDebounce)
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MaxContentLength must be positive, got %d", c.MaxContentLength)
	}
	if c.MaxRoomSize <= 0 {
		return fmt.Errorf("MaxRoomSize must be positive, got %d", c.MaxRoomSize)
	}
	if c.BroadcastWorkers <= 0 {
		return fmt.Errorf("BroadcastWorkers must be positive, got %d", c.BroadcastWorkers)
	}
	if c.ConnectRate <= 0 || c.ConnectBurst <= 0 {
		return fmt.Errorf("ConnectRate and ConnectBurst must be positive")
	}
	if c.ActionRate <= 0 || c.ActionBurst <= 0 {
		return fmt.Errorf("ActionRate and ActionBurst must be positive")
	}
	if c.DedupeCapacity == 0 || c.DedupeFalsePositive <= 0 || c.DedupeFalsePositive >= 1 {
		return fmt.Errorf("invalid dedupe sizing: capacity=%d fp=%v", c.DedupeCapacity, c.DedupeFalsePositive)
	}
	if c.OfflineRetention <= 0 || c.PurgeInterval <= 0 {
		return fmt.Errorf("OfflineRetention and PurgeInterval must be positive")
	}
	if c.EventWorkers <= 0 || c.EventQueueSize <= 0 {
		return fmt.Errorf("EventWorkers and EventQueueSize must be positive")
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithHeartbeat 设置心跳间隔与死连接超时
func WithHeartbeat(interval, deadTimeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.DeadTimeout = deadTimeout
	}
}

// WithPresenceDebounce 设置在线状态防抖窗口
func WithPresenceDebounce(d time.Duration) Option {
	return func(c *Config) {
		c.PresenceDebounce = d
	}
}

// WithMessageSizeLimit 设置报文大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithConnectRate 设置每用户建连限流
func WithConnectRate(rate float64, burst int) Option {
	return func(c *Config) {
		c.ConnectRate = rate
		c.ConnectBurst = burst
	}
}

// WithActionRate 设置会话内操作限流
func WithActionRate(rate float64, burst int) Option {
	return func(c *Config) {
		c.ActionRate = rate
		c.ActionBurst = burst
	}
}

// WithMessageQueueSize 设置每个连接的发送缓冲
func WithMessageQueueSize(size int) Option {
	return func(c *Config) {
		c.MessageQueueSize = size
	}
}

// WithLimits 设置消息长度与房间人数上限
func WithLimits(maxContentLength, maxRoomSize int) Option {
	return func(c *Config) {
		c.MaxContentLength = maxContentLength
		c.MaxRoomSize = maxRoomSize
	}
}

// WithDedupe 设置重复发送抑制的容量与误判率
func WithDedupe(capacity uint, falsePositive float64) Option {
	return func(c *Config) {
		c.DedupeCapacity = capacity
		c.DedupeFalsePositive = falsePositive
	}
}

// WithOfflineRetention 设置离线条目保留时长与清理间隔
func WithOfflineRetention(retention, purgeInterval time.Duration) Option {
	return func(c *Config) {
		c.OfflineRetention = retention
		c.PurgeInterval = purgeInterval
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
func WithCheckOriginWhitelist(origins []string) Option {
	return func(c *Config) {
		c.Upgrader.AllowedOrigins = origins
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发和测试）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// sameOrigin 同源或非浏览器客户端（无 Origin）
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func whitelist(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

func newUpgrader(cfg UpgraderConfig) *websocket.Upgrader {
	check := cfg.CheckOrigin
	if check == nil {
		if len(cfg.AllowedOrigins) > 0 {
			check = whitelist(cfg.AllowedOrigins)
		} else {
			check = sameOrigin
		}
	}
	return &websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		EnableCompression: cfg.EnableCompression,
		CheckOrigin:       check,
	}
}
