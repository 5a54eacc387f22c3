package realtime

import (
	"sort"
	"sync"
	"time"
)

// Sender 可投递帧的连接句柄
type Sender interface {
	ID() string
	UserID() string
	// SendFrame 非阻塞投递已编码的帧，缓冲满时返回 ErrChannelFull
	SendFrame(frame []byte) error
	Close(code int, reason string)
}

// Transition 用户在线状态变化
type Transition struct {
	UserID string
	Online bool
	At     time.Time
}

// PresenceListener 在线状态监听器，在注册表锁释放后调用
type PresenceListener func(Transition)

type entry struct {
	conn          Sender
	userID        string
	lastHeartbeat time.Time
}

// presenceRecord 用户在线记录，首个连接时创建，最后一个连接断开时删除
type presenceRecord struct {
	conns    map[string]struct{}
	lastSeen time.Time
}

// Registry 连接注册表
//
// 维护 connID -> 连接 与 userID -> 连接集合 两个索引，所有修改在写锁内完成。
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*entry
	users    map[string]*presenceRecord
	listener PresenceListener
	now      func() time.Time
}

// NewRegistry 创建注册表
func NewRegistry(listener PresenceListener) *Registry {
	return &Registry{
		conns:    make(map[string]*entry),
		users:    make(map[string]*presenceRecord),
		listener: listener,
		now:      time.Now,
	}
}

// Register 注册连接，用户的第一个连接触发上线
func (r *Registry) Register(connID, userID string, conn Sender) error {
	now := r.now()

	r.mu.Lock()
	if _, exists := r.conns[connID]; exists {
		r.mu.Unlock()
		return ErrDuplicateConnection
	}
	r.conns[connID] = &entry{conn: conn, userID: userID, lastHeartbeat: now}

	rec, ok := r.users[userID]
	if !ok {
		rec = &presenceRecord{conns: make(map[string]struct{})}
		r.users[userID] = rec
	}
	rec.conns[connID] = struct{}{}
	rec.lastSeen = now
	r.mu.Unlock()

	if !ok {
		r.notify(Transition{UserID: userID, Online: true, At: now})
	}
	return nil
}

// Unregister 注销连接（幂等），用户的最后一个连接触发下线
func (r *Registry) Unregister(connID string) {
	r.remove(connID)
}

func (r *Registry) remove(connID string) bool {
	now := r.now()

	r.mu.Lock()
	e, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, connID)

	offline := false
	if rec, ok := r.users[e.userID]; ok {
		delete(rec.conns, connID)
		rec.lastSeen = now
		if len(rec.conns) == 0 {
			delete(r.users, e.userID)
			offline = true
		}
	}
	r.mu.Unlock()

	if offline {
		r.notify(Transition{UserID: e.userID, Online: false, At: now})
	}
	return true
}

func (r *Registry) notify(t Transition) {
	if r.listener != nil {
		r.listener(t)
	}
}

// TouchHeartbeat 刷新连接心跳，连接不存在时忽略
func (r *Registry) TouchHeartbeat(connID string) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return
	}
	e.lastHeartbeat = now
	if rec, ok := r.users[e.userID]; ok {
		rec.lastSeen = now
	}
}

// SweepDead 注销超过 timeout 未心跳的连接，返回实际移除的 connID
//
// 过期连接在一次读锁内收集，之后逐个注销，每次只持有一次修改的锁。
func (r *Registry) SweepDead(now time.Time, timeout time.Duration) []string {
	deadline := now.Add(-timeout)

	r.mu.RLock()
	var expired []string
	for id, e := range r.conns {
		if e.lastHeartbeat.Before(deadline) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	removed := expired[:0]
	for _, id := range expired {
		if r.remove(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

// IsOnline 用户是否至少有一个已注册连接
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// ConnectionsFor 用户的全部连接 ID
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.users[userID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rec.conns))
	for id := range rec.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup 按 connID 查找连接
func (r *Registry) Lookup(connID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// OnlineUserIDs 在线用户 ID（已排序）
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count 已注册连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// LastSeen 在线用户的最近活跃时间
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[userID]
	if !ok {
		return time.Time{}, false
	}
	return rec.lastSeen, true
}
