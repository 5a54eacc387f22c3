package ratelimit

import (
	"sync"
	"time"
)

// Config 限流配置
type Config struct {
	// Rate 每秒补充的令牌数
	Rate float64
	// Burst 桶容量
	Burst int
	// CleanupInterval 过期桶清理间隔（默认 10 分钟）
	CleanupInterval time.Duration
	// BucketExpiry 桶闲置多久后清理（默认 30 分钟）
	BucketExpiry time.Duration
}

// DefaultConfig 默认配置：每 5 秒 1 次，突发 5 次
func DefaultConfig() Config {
	return Config{
		Rate:            0.2,
		Burst:           5,
		CleanupInterval: 10 * time.Minute,
		BucketExpiry:    30 * time.Minute,
	}
}

// tokenBucket 令牌桶
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

func (t *tokenBucket) allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elapsed := now.Sub(t.lastRefill).Seconds(); elapsed > 0 {
		t.tokens += elapsed * t.refillRate
		if t.tokens > t.maxTokens {
			t.tokens = t.maxTokens
		}
		t.lastRefill = now
	}

	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	return false
}

// resetAt 下一个令牌可用的时间
func (t *tokenBucket) resetAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tokens >= 1 || t.refillRate <= 0 {
		return t.lastRefill
	}
	wait := (1 - t.tokens) / t.refillRate
	return t.lastRefill.Add(time.Duration(wait * float64(time.Second)))
}

// Limiter 按 key 独立计数的令牌桶限流器
type Limiter struct {
	cfg     Config
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New 创建限流器并启动后台清理（调用 Close 停止）
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.BucketExpiry <= 0 {
		cfg.BucketExpiry = def.BucketExpiry
	}

	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.runCleanup()
	return l
}

// Allow 消耗 key 的一个令牌
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).allow(l.now())
}

// ResetAt key 下一个令牌可用的时间
func (l *Limiter) ResetAt(key string) time.Time {
	return l.bucket(key).resetAt()
}

// Len 当前桶数量
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Close 停止后台清理
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Limiter) bucket(key string) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// 双重检查
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = newTokenBucket(l.cfg.Rate, l.cfg.Burst, l.now())
	l.buckets[key] = b
	return b
}

func (l *Limiter) runCleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.done:
			return
		}
	}
}

// cleanup 清理闲置的令牌桶
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		b.mu.Lock()
		expired := now.Sub(b.lastRefill) > l.cfg.BucketExpiry
		b.mu.Unlock()
		if expired {
			delete(l.buckets, key)
		}
	}
}
