package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn WebSocket 传输层
//
// 每个连接一个写协程和一个带缓冲的发送通道，发送方永不阻塞。
// 激活期间实时消息进入暂存区，release 后按序冲刷，保证离线消息先于实时消息。
type Conn struct {
	ws      *websocket.Conn
	send    chan []byte
	metrics Metrics

	writeWait time.Duration
	pingEvery time.Duration
	holdLimit int

	seq atomic.Uint64 // 已投递到发送通道的帧数

	holdMu  sync.Mutex
	holding bool
	held    [][]byte

	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	writeDone chan struct{}
}

func newConn(ws *websocket.Conn, cfg *Config, metrics Metrics) *Conn {
	return &Conn{
		ws:        ws,
		send:      make(chan []byte, cfg.MessageQueueSize),
		metrics:   metrics,
		writeWait: cfg.WriteWait,
		pingEvery: cfg.HeartbeatInterval,
		holdLimit: cfg.MessageQueueSize,
		holding:   true,
		stop:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

// start 启动写协程
func (c *Conn) start() {
	go c.writePump()
}

// SendFrame 非阻塞发送，激活完成前进入暂存区
func (c *Conn) SendFrame(frame []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	if c.holding {
		if len(c.held) >= c.holdLimit {
			return ErrChannelFull
		}
		c.held = append(c.held, frame)
		return nil
	}
	return c.enqueue(frame)
}

func (c *Conn) enqueue(frame []byte) error {
	select {
	case c.send <- frame:
		c.seq.Add(1)
		return nil
	default:
		return ErrChannelFull
	}
}

// sendDirect 绕过暂存区发送，缓冲满时最多等待一个写超时
//
// 仅在激活阶段由会话自身的协程调用。
func (c *Conn) sendDirect(frame []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	timer := time.NewTimer(c.writeWait)
	defer timer.Stop()

	select {
	case c.send <- frame:
		c.seq.Add(1)
		return nil
	case <-c.stop:
		return ErrConnectionClosed
	case <-timer.C:
		return ErrChannelFull
	}
}

// release 结束暂存，按序冲刷暂存的帧
func (c *Conn) release() {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	for _, frame := range c.held {
		if err := c.enqueue(frame); err != nil {
			c.metrics.IncrementDroppedMessages()
		}
	}
	c.held = nil
	c.holding = false
}

// Seq 已投递帧数
func (c *Conn) Seq() uint64 {
	return c.seq.Load()
}

// writePump 写协程，同时负责协议层 ping
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		close(c.writeDone)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.metrics.IncrementWriteErrors()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.metrics.IncrementWriteErrors()
				return
			}

		case <-c.stop:
			// 尽力冲刷剩余消息，例如关闭前的 error 报文
			for {
				select {
				case frame := <-c.send:
					if err := c.write(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// Close 发送关闭帧并关闭底层连接（幂等）
//
// 先等待写协程冲刷完缓冲，再写关闭帧，最多等待一个写超时。
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)

		select {
		case <-c.writeDone:
		case <-time.After(c.writeWait):
		}

		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(c.writeWait))
		_ = c.ws.Close()
	})
}

// IsClosed 是否已关闭
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// RemoteAddr 远端地址
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// reject 握手阶段拒绝：写入 error 报文和关闭帧后关闭连接
func reject(ws *websocket.Conn, frame []byte, code int, reason string, wait time.Duration) {
	deadline := time.Now().Add(wait)
	if frame != nil {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}
