package realtime

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduper 重复发送的快速否定判断
//
// 布隆过滤器只能回答“一定没见过”，命中后仍需查询存储确认。
// 当前代写满容量后成为上一代，查询同时检查两代。
type Deduper struct {
	mu       sync.Mutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	added    uint
	capacity uint
	fp       float64
}

// NewDeduper 按预估容量与误判率创建
func NewDeduper(capacity uint, falsePositive float64) *Deduper {
	return &Deduper{
		current:  bloom.NewWithEstimates(capacity, falsePositive),
		capacity: capacity,
		fp:       falsePositive,
	}
}

func dedupeKey(senderID, clientMessageID string) []byte {
	return []byte(senderID + "|" + clientMessageID)
}

// MaybeSeen 可能已出现过
func (d *Deduper) MaybeSeen(senderID, clientMessageID string) bool {
	key := dedupeKey(senderID, clientMessageID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current.Test(key) {
		return true
	}
	return d.previous != nil && d.previous.Test(key)
}

// Add 记录一次发送
func (d *Deduper) Add(senderID, clientMessageID string) {
	key := dedupeKey(senderID, clientMessageID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.added >= d.capacity {
		d.previous = d.current
		d.current = bloom.NewWithEstimates(d.capacity, d.fp)
		d.added = 0
	}
	d.current.Add(key)
	d.added++
}
