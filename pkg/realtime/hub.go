package realtime

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/linkup/pkg/auth"
	"github.com/tokmz/linkup/pkg/cache"
	"github.com/tokmz/linkup/pkg/errors"
	"github.com/tokmz/linkup/pkg/eventsink"
	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/offline"
	"github.com/tokmz/linkup/pkg/protocol"
	"github.com/tokmz/linkup/pkg/ratelimit"
	"github.com/tokmz/linkup/pkg/store"
)

// Deps Hub 依赖的协作者，Store、Queue、Verifier 必填
type Deps struct {
	Store    store.Store
	Queue    offline.Queue
	Verifier auth.Verifier
	Logger   logger.Logger
	Metrics  Metrics
	Sink     eventsink.Sink       // 为空时不投递领域事件
	LastSeen *cache.PresenceStore // 为空时不持久化最后在线时间
}

// Hub 实时核心，装配注册表、房间、会话与后台任务
type Hub struct {
	cfg      *Config
	log      logger.Logger
	metrics  Metrics
	upgrader *websocket.Upgrader

	registry *Registry
	rooms    *RoomManager
	pool     *connectionPool
	router   *Router
	presence *PresenceBroadcaster
	events   *EventBus
	deduper  *Deduper
	limiter  *ratelimit.Limiter

	store    store.Store
	queue    offline.Queue
	verifier auth.Verifier
	sink     eventsink.Sink
	lastSeen *cache.PresenceStore

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// NewHub 创建 Hub
func NewHub(deps Deps, opts ...Option) (*Hub, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Queue == nil || deps.Verifier == nil {
		return nil, stderrors.New("realtime: store, queue and verifier are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}
	if deps.Sink == nil {
		deps.Sink = eventsink.Nop{}
	}
	if d := cfg.PresenceDebounce; d < time.Second || d > 2*time.Second {
		deps.Logger.Warn("presence debounce outside the recommended 1s-2s window", zap.Duration("debounce", d))
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      cfg,
		log:      deps.Logger.Named("realtime"),
		metrics:  deps.Metrics,
		upgrader: newUpgrader(cfg.Upgrader),
		pool:     newConnectionPool(cfg.MaxConnections),
		router:   NewRouter(),
		events:   NewEventBus(cfg.EventWorkers, cfg.EventQueueSize),
		deduper:  NewDeduper(cfg.DedupeCapacity, cfg.DedupeFalsePositive),
		limiter: ratelimit.New(ratelimit.Config{
			Rate:  cfg.ConnectRate,
			Burst: cfg.ConnectBurst,
		}),
		store:    deps.Store,
		queue:    deps.Queue,
		verifier: deps.Verifier,
		sink:     deps.Sink,
		lastSeen: deps.LastSeen,
		ctx:      ctx,
		cancel:   cancel,
	}

	h.rooms = NewRoomManager(h.pool, RoomConfig{
		MaxRoomSize:       cfg.MaxRoomSize,
		ParallelThreshold: cfg.ParallelThreshold,
		Workers:           cfg.BroadcastWorkers,
	}, h.metrics)
	h.registry = NewRegistry(h.onTransition)
	h.presence = NewPresenceBroadcaster(h.registry, h.rooms, h.store, cfg.PresenceDebounce,
		h.publish, h.metrics, h.log.Named("presence"))

	if err := h.router.Use(
		Recovery(h.log),
		Tracing(),
		Instrument(h.metrics),
		Throttle(h.metrics, protocol.KindSendMessage, protocol.KindTypingStart,
			protocol.KindTypingStop, protocol.KindJoinRoom),
	); err != nil {
		cancel()
		return nil, err
	}
	if err := h.registerHandlers(); err != nil {
		cancel()
		return nil, err
	}
	h.setupEventHandlers()
	return h, nil
}

// Router 报文路由器，自定义处理器与中间件须在 Run 之前注册
func (h *Hub) Router() *Router { return h.router }

// onTransition 注册表状态变化：交给广播器防抖，下线时持久化最后在线时间
func (h *Hub) onTransition(t Transition) {
	h.presence.OnTransition(t)
	if t.Online || h.lastSeen == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.lastSeen.SetLastSeen(ctx, t.UserID, t.At); err != nil {
		h.log.Warn("persist last seen failed", zap.String("user_id", t.UserID), zap.Error(err))
	}
}

// publish 异步投递领域事件
func (h *Hub) publish(e eventsink.Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.events.Publish(Event{Type: EventDomain, UserID: e.UserID, Domain: &e})
}

func (h *Hub) setupEventHandlers() {
	h.events.Subscribe(EventConnected, func(Event) {
		h.metrics.IncrementConnections()
		h.metrics.SetConnectionCount(h.registry.Count())
	})
	h.events.Subscribe(EventDisconnected, func(Event) {
		h.metrics.DecrementConnections()
		h.metrics.SetConnectionCount(h.registry.Count())
	})
	h.events.Subscribe(EventDomain, func(e Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.sink.Publish(ctx, *e.Domain); err != nil {
			h.log.Warn("publish event failed", zap.String("type", e.Domain.Type), zap.Error(err))
		}
	})
}

// ServeWS 处理 WebSocket 握手
//
// 连接数已满时在升级前返回 503；升级后按顺序校验 userId、建连限流与身份，
// 失败时在已升级的连接上发送关闭帧（4001/4029/4003），浏览器可以读到关闭码。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil || h.pool.Full() {
		h.metrics.IncrementRejectedConnections("capacity")
		w.Header().Set("Retry-After", "5")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		h.reject(ws, "missing_identity", errors.ErrMissingIdentity)
		return
	}
	if !h.limiter.Allow(userID) {
		h.metrics.IncrementRateLimited("connect")
		h.reject(ws, "rate_limited", errors.ErrRateLimited.WithCloseCode(errors.CloseRateLimited))
		return
	}

	user, err := h.verifier.Verify(r.Context(), tokenFrom(r), userID)
	if err != nil {
		e := errors.From(err)
		if e.Kind != errors.KindAuthentication || !e.Fatal() {
			e = errors.ErrAuthFailed.WithError(err)
		}
		h.log.Info("authentication failed", zap.String("user_id", userID), zap.Error(err))
		h.reject(ws, "auth_failed", e)
		return
	}

	s := newSession(h, ws, user.ID)
	if err := h.pool.Add(s); err != nil {
		h.metrics.IncrementRejectedConnections("capacity")
		reject(ws, nil, websocket.CloseTryAgainLater, "too many connections", h.cfg.WriteWait)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.run()
	}()
}

func (h *Hub) reject(ws *websocket.Conn, reason string, e *errors.Error) {
	h.metrics.IncrementRejectedConnections(reason)
	frame, _ := protocol.NewError("", e).Encode()
	reject(ws, frame, e.CloseCode, e.Message, h.cfg.WriteWait)
}

// tokenFrom 优先 query token，其次 Authorization: Bearer
func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	const prefix = "Bearer "
	if v := r.Header.Get("Authorization"); len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return strings.TrimSpace(v[len(prefix):])
	}
	return ""
}

// Run 运行后台任务（死连接扫描与离线队列清理），阻塞直到 ctx 取消或 Shutdown
func (h *Hub) Run(ctx context.Context) error {
	h.router.Freeze()

	sweep := time.NewTicker(h.cfg.HeartbeatInterval)
	defer sweep.Stop()
	purge := time.NewTicker(h.cfg.PurgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.ctx.Done():
			return nil
		case now := <-sweep.C:
			h.SweepDead(now)
		case now := <-purge.C:
			h.purgeOffline(ctx, now)
		}
	}
}

// SweepDead 关闭超时未心跳的连接，返回关闭的 connID
func (h *Hub) SweepDead(now time.Time) []string {
	removed := h.registry.SweepDead(now, h.cfg.DeadTimeout)
	for _, id := range removed {
		h.metrics.IncrementDeadConnections()
		if s, ok := h.pool.Get(id); ok {
			s.Close(errors.CloseDeadConnection, "dead connection")
		} else {
			h.rooms.LeaveAll(id)
		}
	}
	if len(removed) > 0 {
		h.log.Info("swept dead connections", zap.Int("count", len(removed)))
	}
	h.metrics.SetConnectionCount(h.registry.Count())
	h.metrics.SetRoomCount(h.rooms.RoomCount())
	return removed
}

func (h *Hub) purgeOffline(ctx context.Context, now time.Time) {
	n, err := h.queue.PurgeStale(ctx, now, h.cfg.OfflineRetention)
	if err != nil {
		h.log.Error("purge offline queue failed", zap.Error(err))
		return
	}
	if n > 0 {
		h.log.Info("purged stale offline entries", zap.Int("count", n))
	}
}

// Shutdown 以 1001 关闭全部会话并停止后台组件
func (h *Hub) Shutdown(ctx context.Context) error {
	var err error
	h.shutdown.Do(func() {
		h.cancel()

		var closeWg sync.WaitGroup
		h.pool.Range(func(s *Session) bool {
			closeWg.Add(1)
			go func() {
				defer closeWg.Done()
				s.Close(websocket.CloseGoingAway, "server shutting down")
			}()
			return true
		})

		done := make(chan struct{})
		go func() {
			closeWg.Wait()
			h.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		h.presence.Close()
		h.events.Close()
		h.limiter.Close()
	})
	return err
}

// IsUserOnline 用户是否在线
func (h *Hub) IsUserOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// OnlineUserIDs 在线用户
func (h *Hub) OnlineUserIDs() []string {
	return h.registry.OnlineUserIDs()
}

// ConnectionCount 已注册连接数
func (h *Hub) ConnectionCount() int {
	return h.registry.Count()
}

// PresenceInfo 用户在线信息
type PresenceInfo struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen,omitzero"`
}

// Presence 查询用户在线信息，离线用户从缓存读取最后在线时间
func (h *Hub) Presence(ctx context.Context, userID string) (PresenceInfo, error) {
	info := PresenceInfo{UserID: userID}
	if seen, ok := h.registry.LastSeen(userID); ok {
		info.Online = true
		info.LastSeen = seen
		return info, nil
	}
	if h.lastSeen == nil {
		return info, nil
	}
	seen, ok, err := h.lastSeen.LastSeen(ctx, userID)
	if err != nil {
		return info, err
	}
	if ok {
		info.LastSeen = seen
	}
	return info, nil
}

// Registry 连接注册表
func (h *Hub) Registry() *Registry { return h.registry }

// Rooms 房间管理器
func (h *Hub) Rooms() *RoomManager { return h.rooms }

// Config 生效的配置
func (h *Hub) Config() Config { return *h.cfg }
