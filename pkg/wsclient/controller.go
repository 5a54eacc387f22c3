// Package wsclient 实时服务的客户端重连控制器。
//
// 负责拨号、就绪判定、指数退避重连、应用层心跳以及降级时改走兜底通道。
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	lkerrors "github.com/tokmz/linkup/pkg/errors"
	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/protocol"
)

// State 控制器状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected   = errors.New("wsclient: not connected")
	ErrUnavailable    = errors.New("wsclient: real-time channel unavailable and no fallback configured")
	ErrQueueFull      = errors.New("wsclient: pending queue full")
	ErrAlreadyStarted = errors.New("wsclient: already started")
)

// Controller 客户端重连控制器
//
// 状态机 Disconnected → Connecting → Connected → Reconnecting → Failed。
// 收到 connection-ack 才算就绪；未就绪期间的发送进入有界待发队列，
// 就绪后按序冲刷。连续重连达到 FallbackAfter 次或进入 Failed 时降级，
// 发送改走 Fallback，没有 Fallback 则返回 ErrUnavailable，不会静默丢弃。
type Controller struct {
	cfg      Config
	log      logger.Logger
	endpoint string

	mu        sync.Mutex
	state     State
	attempts  int
	pending   []*protocol.Envelope
	flushing  bool
	transport Transport
	running   bool
	closing   bool
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex
}

// New 创建控制器
func New(url, userID string, opts ...Option) (*Controller, error) {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.UserID = userID
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebSocketDialer()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	endpoint, err := cfg.endpoint()
	if err != nil {
		return nil, fmt.Errorf("wsclient: %w", err)
	}

	return &Controller{
		cfg:      cfg,
		log:      cfg.Logger.Named("wsclient").With(zap.String("user_id", cfg.UserID)),
		endpoint: endpoint,
	}, nil
}

// Connect 启动连接，ctx 决定控制器的生命周期
//
// Failed 之后可以再次调用以重新开始。
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.closing = false
	c.attempts = 0
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.transition(func() { c.state = StateConnecting })
	go c.supervise(ctx, done)
	return nil
}

// Close 以 1000 关闭连接并等待后台协程退出
func (c *Controller) Close() error {
	c.mu.Lock()
	if !c.running {
		idle := c.state == StateDisconnected
		c.mu.Unlock()
		if !idle {
			c.transition(func() { c.state = StateDisconnected })
		}
		return nil
	}
	c.closing = true
	t, cancel, done := c.transport, c.cancel, c.done
	c.mu.Unlock()

	if t != nil {
		c.writeMu.Lock()
		err := t.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		if err != nil {
			c.log.Debug("write close frame failed", zap.Error(err))
		}
	}
	cancel()
	<-done
	return nil
}

// Send 发送报文
func (c *Controller) Send(ctx context.Context, env *protocol.Envelope) error {
	c.mu.Lock()
	if c.degradedLocked() {
		c.mu.Unlock()
		if c.cfg.Fallback == nil {
			return ErrUnavailable
		}
		return c.cfg.Fallback.Send(ctx, env)
	}

	switch c.state {
	case StateConnected:
		if c.flushing || c.transport == nil {
			err := c.enqueueLocked(env)
			c.mu.Unlock()
			return err
		}
		t := c.transport
		c.mu.Unlock()
		if err := c.write(t, env); err != nil {
			return c.requeue(env, err)
		}
		return nil
	case StateConnecting, StateReconnecting:
		err := c.enqueueLocked(env)
		c.mu.Unlock()
		return err
	default:
		c.mu.Unlock()
		return ErrNotConnected
	}
}

// State 当前状态
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Degraded 是否处于降级
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degradedLocked()
}

// Attempts 当前连续重连次数
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Pending 待发队列长度
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Controller) degradedLocked() bool {
	switch c.state {
	case StateFailed:
		return true
	case StateReconnecting:
		return c.attempts >= c.cfg.FallbackAfter
	default:
		return false
	}
}

func (c *Controller) enqueueLocked(env *protocol.Envelope) error {
	if len(c.pending) >= c.cfg.PendingLimit {
		return ErrQueueFull
	}
	c.pending = append(c.pending, env)
	return nil
}

// requeue 直写失败时转入待发队列，等下次就绪重发
func (c *Controller) requeue(env *protocol.Envelope, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected || c.state == StateFailed {
		return fmt.Errorf("wsclient: send: %w", cause)
	}
	return c.enqueueLocked(env)
}

// transition 在锁内修改状态，锁外触发回调
//
// 进入降级且配置了 Fallback 时，待发队列整体移交给 Fallback。
func (c *Controller) transition(mutate func()) {
	c.mu.Lock()
	from, wasDegraded := c.state, c.degradedLocked()
	mutate()
	to, degraded := c.state, c.degradedLocked()
	var handoff []*protocol.Envelope
	if degraded && c.cfg.Fallback != nil && len(c.pending) > 0 {
		handoff = c.pending
		c.pending = nil
	}
	c.mu.Unlock()

	if from != to {
		c.log.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
		if c.cfg.OnStateChange != nil {
			c.cfg.OnStateChange(from, to)
		}
	}
	if degraded != wasDegraded {
		c.log.Info("degraded mode changed", zap.Bool("degraded", degraded))
		if c.cfg.OnDegraded != nil {
			c.cfg.OnDegraded(degraded)
		}
	}
	for _, env := range handoff {
		if err := c.cfg.Fallback.Send(context.Background(), env); err != nil {
			c.log.Warn("fallback send failed", zap.String("type", env.Type), zap.Error(err))
		}
	}
}

func (c *Controller) stop(state State) {
	c.transition(func() {
		c.state = state
		c.running = false
	})
}

func (c *Controller) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// supervise 拨号、服务、按关闭码决定是否重连
func (c *Controller) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	bo := c.cfg.newBackOff()

	for {
		code := c.dialAndServe(ctx, bo)
		if ctx.Err() != nil || c.isClosing() {
			c.stop(StateDisconnected)
			return
		}

		if code == lkerrors.CloseMissingIdentity || code == lkerrors.CloseAuthFailed {
			c.log.Warn("connection rejected, not retrying", zap.Int("code", code))
			c.stop(StateFailed)
			return
		}

		var n int
		c.transition(func() {
			c.attempts++
			n = c.attempts
			if n <= c.cfg.MaxAttempts {
				c.state = StateReconnecting
			}
		})
		if n > c.cfg.MaxAttempts {
			c.log.Error("reconnect attempts exhausted", zap.Int("max_attempts", c.cfg.MaxAttempts))
			c.stop(StateFailed)
			return
		}

		delay := bo.NextBackOff()
		c.log.Info("reconnecting",
			zap.Int("code", code),
			zap.Int("attempt", n),
			zap.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.stop(StateDisconnected)
			return
		case <-timer.C:
		}

		if c.cfg.OnAttempt != nil {
			c.cfg.OnAttempt(n)
		}
	}
}

func (c *Controller) dialAndServe(ctx context.Context, bo *backoff.ExponentialBackOff) int {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	t, err := c.cfg.Dialer.Dial(ctx, c.endpoint, header)
	if err != nil {
		c.log.Warn("dial failed", zap.Error(err))
		return websocket.CloseAbnormalClosure
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.transport = nil
		c.mu.Unlock()
	}()

	return c.serve(ctx, t, bo)
}

// serve 处理一条连接直到关闭，返回关闭码
func (c *Controller) serve(ctx context.Context, t Transport, bo *backoff.ExponentialBackOff) int {
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)
	defer t.Close()

	go func() {
		for {
			_, data, err := t.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-quit:
				return
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var grace *time.Timer
	var graceC <-chan time.Time
	stopGrace := func() {
		if grace != nil {
			grace.Stop()
			grace, graceC = nil, nil
		}
	}
	defer stopGrace()

	for {
		select {
		case <-ctx.Done():
			return websocket.CloseNormalClosure

		case err := <-readErr:
			code := closeCode(err)
			c.log.Info("connection closed", zap.Int("code", code), zap.Error(err))
			return code

		case data := <-frames:
			env, err := protocol.Decode(data, 0)
			if err != nil {
				c.log.Debug("discard malformed frame", zap.Error(err))
				continue
			}
			switch env.Type {
			case protocol.KindPong:
				stopGrace()
				continue
			case protocol.KindConnectionAck:
				bo.Reset()
				c.onAck(t, env)
			}
			if c.cfg.OnMessage != nil {
				c.cfg.OnMessage(env)
			}

		case <-ticker.C:
			if graceC != nil || c.State() != StateConnected {
				continue
			}
			if err := c.write(t, protocol.MustNew(protocol.KindPing, "", nil)); err != nil {
				c.log.Warn("heartbeat write failed", zap.Error(err))
				return websocket.CloseAbnormalClosure
			}
			grace = time.NewTimer(c.cfg.PongGrace)
			graceC = grace.C

		case <-graceC:
			c.log.Warn("pong timeout, dropping transport", zap.Duration("grace", c.cfg.PongGrace))
			return websocket.CloseAbnormalClosure
		}
	}
}

// onAck 进入 Connected 并按序冲刷待发队列
//
// 冲刷期间新到的发送继续排队，直到队列清空才恢复直写。
func (c *Controller) onAck(t Transport, env *protocol.Envelope) {
	var ack protocol.ConnectionAck
	if err := env.Bind(&ack); err != nil {
		c.log.Warn("malformed connection ack", zap.Error(err))
	}

	c.transition(func() {
		c.state = StateConnected
		c.attempts = 0
		c.flushing = true
	})
	c.log.Info("connected", zap.String("conn_id", ack.ConnectionID), zap.Int("queued", ack.Queued))
	if c.cfg.OnQueueDelivered != nil {
		c.cfg.OnQueueDelivered(ack.Queued)
	}

	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		if len(batch) == 0 {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		for i, e := range batch {
			if err := c.write(t, e); err != nil {
				c.mu.Lock()
				c.pending = append(batch[i:], c.pending...)
				c.flushing = false
				c.mu.Unlock()
				c.log.Warn("flush pending failed", zap.Int("remaining", len(batch)-i), zap.Error(err))
				return
			}
		}
	}
}

func (c *Controller) write(t Transport, env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return t.WriteMessage(websocket.TextMessage, data)
}
