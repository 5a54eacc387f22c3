package realtime

import (
	"sync"
	"sync/atomic"
)

// connectionPool 已握手会话池，负责连接数上限
//
// 会话在激活前就进入连接池，房间广播通过连接池解析句柄，
// 因此激活期间加入的房间也能收到（被暂存的）实时消息。
type connectionPool struct {
	sessions sync.Map // connID -> *Session
	count    atomic.Int64
	maxConns int
}

func newConnectionPool(maxConns int) *connectionPool {
	return &connectionPool{maxConns: maxConns}
}

// Add 添加会话
func (p *connectionPool) Add(s *Session) error {
	if _, loaded := p.sessions.LoadOrStore(s.ID(), s); loaded {
		return ErrDuplicateConnection
	}

	if int(p.count.Add(1)) > p.maxConns {
		p.count.Add(-1)
		p.sessions.Delete(s.ID())
		return ErrTooManyConnections
	}
	return nil
}

// Remove 移除会话
func (p *connectionPool) Remove(connID string) {
	if _, loaded := p.sessions.LoadAndDelete(connID); loaded {
		p.count.Add(-1)
	}
}

// Get 获取会话
func (p *connectionPool) Get(connID string) (*Session, bool) {
	v, ok := p.sessions.Load(connID)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}

// Lookup 实现 Resolver
func (p *connectionPool) Lookup(connID string) (Sender, bool) {
	s, ok := p.Get(connID)
	if !ok {
		return nil, false
	}
	return s, true
}

// Full 是否已达上限
func (p *connectionPool) Full() bool {
	return p.Count() >= p.maxConns
}

// Count 会话数
func (p *connectionPool) Count() int {
	return int(p.count.Load())
}

// Range 遍历会话
func (p *connectionPool) Range(f func(*Session) bool) {
	p.sessions.Range(func(_, v any) bool {
		s, ok := v.(*Session)
		if !ok {
			return true
		}
		return f(s)
	})
}
