package offline

import (
	"context"
	"sync"
	"time"

	"github.com/tokmz/linkup/pkg/protocol"
)

// Memory 进程内离线队列
type Memory struct {
	mu     sync.RWMutex
	queues map[string][]Entry
	cfg    Config
	now    func() time.Time
}

// NewMemory 创建内存队列
func NewMemory(cfg Config) *Memory {
	return &Memory{
		queues: make(map[string][]Entry),
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

func (m *Memory) Enqueue(_ context.Context, userID string, env *protocol.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := append(m.queues[userID], Entry{
		UserID:     userID,
		Envelope:   env,
		EnqueuedAt: m.now(),
	})
	if over := len(q) - m.cfg.Capacity; over > 0 {
		// 拷贝一份，避免底层数组无限增长
		q = append([]Entry(nil), q[over:]...)
	}
	m.queues[userID] = q
	return nil
}

func (m *Memory) Drain(_ context.Context, userID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[userID]
	delete(m.queues, userID)
	return q, nil
}

func (m *Memory) PurgeStale(_ context.Context, now time.Time, maxAge time.Duration) (int, error) {
	cutoff := now.Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for userID, q := range m.queues {
		// 按时间有序，找到第一个未过期的位置
		i := 0
		for i < len(q) && q[i].EnqueuedAt.Before(cutoff) {
			i++
		}
		if i == 0 {
			continue
		}
		removed += i
		if i == len(q) {
			delete(m.queues, userID)
			continue
		}
		m.queues[userID] = append([]Entry(nil), q[i:]...)
	}
	return removed, nil
}

func (m *Memory) Len(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues[userID]), nil
}

// Users 有排队事件的用户数
func (m *Memory) Users() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues)
}
