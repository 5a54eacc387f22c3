package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/linkup/pkg/eventsink"
	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/protocol"
)

// RoomLister 返回用户参与的会话 ID
type RoomLister interface {
	ListRoomsForUser(ctx context.Context, userID string) ([]string, error)
}

type pendingPresence struct {
	timer *time.Timer
	at    time.Time // 最近一次状态变化时间
}

// PresenceBroadcaster 在线状态广播
//
// 每个用户一个防抖计时器，到期后读取注册表的当前状态，
// 与上次广播的状态相同则不发送，快速重连不会产生抖动。
type PresenceBroadcaster struct {
	mu        sync.Mutex
	pending   map[string]*pendingPresence
	announced map[string]bool // 不存在即离线
	closed    bool

	window   time.Duration
	timeout  time.Duration
	registry *Registry
	rooms    *RoomManager
	lister   RoomLister
	publish  func(eventsink.Event)
	metrics  Metrics
	log      logger.Logger
}

// NewPresenceBroadcaster 创建在线状态广播器
func NewPresenceBroadcaster(registry *Registry, rooms *RoomManager, lister RoomLister, window time.Duration,
	publish func(eventsink.Event), metrics Metrics, log logger.Logger) *PresenceBroadcaster {
	if publish == nil {
		publish = func(eventsink.Event) {}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PresenceBroadcaster{
		pending:   make(map[string]*pendingPresence),
		announced: make(map[string]bool),
		window:    window,
		timeout:   5 * time.Second,
		registry:  registry,
		rooms:     rooms,
		lister:    lister,
		publish:   publish,
		metrics:   metrics,
		log:       log,
	}
}

// OnTransition 接收注册表的状态变化，重置该用户的防抖计时器
func (p *PresenceBroadcaster) OnTransition(t Transition) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if pp, ok := p.pending[t.UserID]; ok {
		pp.at = t.At
		pp.timer.Reset(p.window)
		return
	}

	userID := t.UserID
	p.pending[userID] = &pendingPresence{
		at:    t.At,
		timer: time.AfterFunc(p.window, func() { p.fire(userID) }),
	}
}

func (p *PresenceBroadcaster) fire(userID string) {
	online := p.registry.IsOnline(userID)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var at time.Time
	if pp, ok := p.pending[userID]; ok {
		at = pp.at
		delete(p.pending, userID)
	}
	if p.announced[userID] == online {
		p.mu.Unlock()
		return
	}
	if online {
		p.announced[userID] = true
	} else {
		delete(p.announced, userID)
	}
	p.mu.Unlock()

	if at.IsZero() {
		at = time.Now()
	}
	if online {
		if seen, ok := p.registry.LastSeen(userID); ok {
			at = seen
		}
	}
	p.broadcast(userID, online, at)
}

func (p *PresenceBroadcaster) broadcast(userID string, online bool, at time.Time) {
	status := protocol.StatusOffline
	if online {
		status = protocol.StatusOnline
	}
	body := protocol.StatusChanged{UserID: userID, Status: status, LastSeen: at.UnixMilli()}

	env, err := protocol.New(protocol.KindUserStatusChanged, "", body)
	if err != nil {
		return
	}
	frame, err := env.Encode()
	if err != nil {
		return
	}

	audience := p.audience(userID)
	result := p.rooms.Deliver(audience, frame)
	p.metrics.IncrementPresenceTransitions(status)
	p.log.Debug("presence changed",
		zap.String("user_id", userID),
		zap.String("status", status),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", len(result.Failed)),
	)

	p.publish(eventsink.Event{
		Type:    eventsink.EventPresenceChanged,
		UserID:  userID,
		Payload: body,
		At:      at,
	})
}

// audience 与用户共享任一房间的连接，排除用户自己的连接，每个连接只出现一次
func (p *PresenceBroadcaster) audience(userID string) []string {
	roomSet := make(map[string]struct{})

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	convIDs, err := p.lister.ListRoomsForUser(ctx, userID)
	cancel()
	if err != nil {
		p.log.Warn("list rooms for presence failed", zap.String("user_id", userID), zap.Error(err))
	}
	for _, id := range convIDs {
		roomSet[protocol.RoomID(id)] = struct{}{}
	}

	own := make(map[string]struct{})
	for _, connID := range p.registry.ConnectionsFor(userID) {
		own[connID] = struct{}{}
		for _, roomID := range p.rooms.RoomsOf(connID) {
			roomSet[roomID] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var targets []string
	for roomID := range roomSet {
		for _, connID := range p.rooms.Members(roomID) {
			if _, mine := own[connID]; mine {
				continue
			}
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			targets = append(targets, connID)
		}
	}
	return targets
}

// Announced 上次广播的状态
func (p *PresenceBroadcaster) Announced(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.announced[userID]
}

// Close 停止全部待触发的计时器
func (p *PresenceBroadcaster) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for id, pp := range p.pending {
		pp.timer.Stop()
		delete(p.pending, id)
	}
}
