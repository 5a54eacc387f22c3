package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokmz/linkup/pkg/errors"
	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/protocol"
)

// State 会话状态
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 单个客户端连接上的协议会话
type Session struct {
	id     string
	userID string
	conn   *Conn
	hub    *Hub
	log    logger.Logger

	state   atomic.Int32
	limiter *rate.Limiter
	invalid int // 连续无效报文数，只在读协程访问

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}

	ConnectedAt time.Time
}

func newSession(h *Hub, ws *websocket.Conn, userID string) *Session {
	id := protocol.NewID()
	ctx := logger.WithConnID(logger.WithUserID(h.ctx, userID), id)
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:          id,
		userID:      userID,
		conn:        newConn(ws, h.cfg, h.metrics),
		hub:         h,
		log:         h.log.With(zap.String("conn_id", id), zap.String("user_id", userID)),
		limiter:     newActionLimiter(h.cfg),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}
	s.state.Store(int32(StateAuthenticated))
	return s
}

// ID 连接 ID
func (s *Session) ID() string { return s.id }

// UserID 用户 ID
func (s *Session) UserID() string { return s.userID }

// State 当前状态
func (s *Session) State() State { return State(s.state.Load()) }

// Done 会话关闭后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// SendFrame 实现 Sender
func (s *Session) SendFrame(frame []byte) error {
	return s.conn.SendFrame(frame)
}

// Send 编码并发送报文
func (s *Session) Send(env *protocol.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	return s.conn.SendFrame(frame)
}

// Reply 发送回复，correlationID 为空时生成新 ID
func (s *Session) Reply(kind protocol.Kind, correlationID string, data any) error {
	env, err := protocol.New(kind, correlationID, data)
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	return s.Send(env)
}

// run 启动写协程，完成激活后进入读循环，返回时会话已关闭
func (s *Session) run() {
	s.conn.start()

	if err := s.activate(); err != nil {
		s.log.Warn("activation failed", zap.Error(err))
		s.Close(websocket.CloseInternalServerErr, "activation failed")
		return
	}

	s.readLoop()
	s.Close(websocket.CloseNormalClosure, "")
}

// activate 自动加入房间、注册、投递离线消息、发送 connection-ack、释放暂存的实时消息
func (s *Session) activate() error {
	h := s.hub
	ctx := s.ctx

	convIDs, err := h.store.ListRoomsForUser(ctx, s.userID)
	if err != nil {
		return err
	}
	rooms := make([]string, 0, len(convIDs))
	for _, convID := range convIDs {
		roomID := protocol.RoomID(convID)
		if err := h.rooms.Join(s.id, roomID); err != nil {
			s.log.Warn("auto join failed", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		rooms = append(rooms, roomID)
	}

	if err := h.registry.Register(s.id, s.userID, s); err != nil {
		h.rooms.LeaveAll(s.id)
		return err
	}
	// Close 先切换状态再注销，这里先注册再检查状态：
	// 没看到 Closing 则 Close 的注销一定在注册之后，看到了就由这里撤销
	if s.State() != StateAuthenticated {
		s.undoActivation()
		return ErrConnectionClosed
	}

	entries, err := h.queue.Drain(ctx, s.userID)
	if err != nil {
		s.log.Error("drain offline queue failed", zap.Error(err))
	}
	queued := 0
	for _, e := range entries {
		frame, err := e.Envelope.Encode()
		if err != nil {
			continue
		}
		if err := s.conn.sendDirect(frame); err != nil {
			return err
		}
		queued++
	}
	h.metrics.AddOfflineDelivered(queued)

	ack, err := protocol.New(protocol.KindConnectionAck, "", protocol.ConnectionAck{
		ConnectionID: s.id,
		UserID:       s.userID,
		Rooms:        rooms,
		Queued:       queued,
		ServerTime:   time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	frame, err := ack.Encode()
	if err != nil {
		return err
	}
	if err := s.conn.sendDirect(frame); err != nil {
		return err
	}

	s.conn.release()
	if !s.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive)) {
		s.undoActivation()
		return ErrConnectionClosed
	}

	h.events.Publish(Event{Type: EventConnected, ConnID: s.id, UserID: s.userID})
	s.log.Debug("session active", zap.Int("rooms", len(rooms)), zap.Int("queued", queued))
	return nil
}

// undoActivation 激活途中会话已关闭，撤销注册与自动加入的房间
func (s *Session) undoActivation() {
	s.hub.registry.Unregister(s.id)
	s.hub.rooms.LeaveAll(s.id)
}

// readLoop 读循环，不设读超时，死连接由注册表扫描处理
func (s *Session) readLoop() {
	h := s.hub
	ws := s.conn.ws

	// 超出软上限的报文仍读入以便回复 ENVELOPE_TOO_LARGE，远超上限的由 gorilla 直接断开
	ws.SetReadLimit(4 * h.cfg.MaxMessageSize)
	// 接管后的连接可能带着 http.Server 的读超时，存活由心跳扫描负责
	_ = ws.SetReadDeadline(time.Time{})
	ws.SetPongHandler(func(string) error {
		h.registry.TouchHeartbeat(s.id)
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!s.conn.IsClosed() {
				h.metrics.IncrementReadErrors()
				s.log.Debug("read failed", zap.Error(err))
			}
			return
		}

		h.registry.TouchHeartbeat(s.id)

		env, err := protocol.Decode(data, int(h.cfg.MaxMessageSize))
		if err != nil {
			h.metrics.IncrementInvalidMessages()
			s.invalid++
			var correlationID string
			if env != nil {
				correlationID = env.ID
			}
			_ = s.Send(protocol.NewError(correlationID, err))
			if s.invalid >= h.cfg.MaxInvalidFrames {
				s.Close(websocket.ClosePolicyViolation, "too many malformed frames")
				return
			}
			continue
		}
		s.invalid = 0

		if err := h.router.Route(s.ctx, s, env); err != nil {
			e := errors.From(err)
			if e.Kind == errors.KindInternal {
				s.log.Error("handler failed", zap.String("kind", env.Type), zap.Error(err))
			}
			if sendErr := s.Send(protocol.NewError(env.ID, e)); sendErr != nil {
				h.metrics.IncrementDroppedMessages()
			}
			if e.Fatal() {
				s.Close(e.CloseCode, e.Message)
				return
			}
		}
	}
}

// Close 关闭会话（幂等）
//
// 顺序：Closing -> 注销 -> 离开全部房间 -> 关闭传输 -> Closed -> Done。
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosing)))
		s.cancel()

		h := s.hub
		h.registry.Unregister(s.id)
		h.rooms.LeaveAll(s.id)
		h.pool.Remove(s.id)
		s.conn.Close(code, reason)

		s.state.Store(int32(StateClosed))
		close(s.done)

		if prev == StateActive {
			h.events.Publish(Event{Type: EventDisconnected, ConnID: s.id, UserID: s.userID})
		}
		s.log.Debug("session closed", zap.Int("code", code), zap.String("reason", reason))
	})
}
