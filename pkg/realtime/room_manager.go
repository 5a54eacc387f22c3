package realtime

import (
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	lkerrors "github.com/tokmz/linkup/pkg/errors"
	"github.com/tokmz/linkup/pkg/protocol"
)

// Resolver 将 connID 解析为连接句柄
type Resolver interface {
	Lookup(connID string) (Sender, bool)
}

// RoomConfig 房间配置
type RoomConfig struct {
	MaxRoomSize       int
	ParallelThreshold int // 成员数超过此值时并发投递
	Workers           int // 并发投递的 goroutine 上限
}

// BroadcastResult 广播结果
type BroadcastResult struct {
	Delivered int
	Reached   []string // 成功投递的 connID
	Failed    []string // 投递失败的 connID，不会被移出房间
	Err       error    // 编码失败
}

// RoomManager 房间管理器
//
// 房间只保存 connID，投递时通过 Resolver 解析句柄。
// Leave 在写锁内完成，之后开始的广播不会再看到该连接。
type RoomManager struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]struct{} // roomID -> connIDs
	byConn   map[string]map[string]struct{} // connID -> roomIDs
	resolver Resolver
	config   RoomConfig
	metrics  Metrics
}

// NewRoomManager 创建房间管理器
func NewRoomManager(resolver Resolver, config RoomConfig, metrics Metrics) *RoomManager {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &RoomManager{
		rooms:    make(map[string]map[string]struct{}),
		byConn:   make(map[string]map[string]struct{}),
		resolver: resolver,
		config:   config,
		metrics:  metrics,
	}
}

// Join 加入房间（幂等），房间不存在时创建
func (rm *RoomManager) Join(connID, roomID string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	members, ok := rm.rooms[roomID]
	if ok {
		if _, in := members[connID]; in {
			return nil
		}
		if rm.config.MaxRoomSize > 0 && len(members) >= rm.config.MaxRoomSize {
			return lkerrors.ErrRoomFull
		}
	} else {
		members = make(map[string]struct{})
		rm.rooms[roomID] = members
	}
	members[connID] = struct{}{}

	joined, ok := rm.byConn[connID]
	if !ok {
		joined = make(map[string]struct{})
		rm.byConn[connID] = joined
	}
	joined[roomID] = struct{}{}
	return nil
}

// Leave 离开房间，房间为空时删除
func (rm *RoomManager) Leave(connID, roomID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.leaveLocked(connID, roomID)
}

func (rm *RoomManager) leaveLocked(connID, roomID string) {
	if members, ok := rm.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(rm.rooms, roomID)
		}
	}
	if joined, ok := rm.byConn[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(rm.byConn, connID)
		}
	}
}

// LeaveAll 离开全部房间，返回离开的房间
func (rm *RoomManager) LeaveAll(connID string) []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	joined := rm.byConn[connID]
	left := make([]string, 0, len(joined))
	for roomID := range joined {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		rm.leaveLocked(connID, roomID)
	}
	sort.Strings(left)
	return left
}

// Broadcast 向房间成员广播，envelope 只编码一次
func (rm *RoomManager) Broadcast(roomID string, env *protocol.Envelope, exclude ...string) BroadcastResult {
	frame, err := env.Encode()
	if err != nil {
		return BroadcastResult{Err: err}
	}
	return rm.BroadcastFrame(roomID, frame, exclude...)
}

// BroadcastFrame 向房间成员广播已编码的帧
func (rm *RoomManager) BroadcastFrame(roomID string, frame []byte, exclude ...string) BroadcastResult {
	rm.mu.RLock()
	members := rm.rooms[roomID]
	targets := make([]string, 0, len(members))
	for id := range members {
		if !slices.Contains(exclude, id) {
			targets = append(targets, id)
		}
	}
	rm.mu.RUnlock()

	return rm.Deliver(targets, frame)
}

// Deliver 向指定连接投递帧，每个连接非阻塞发送
func (rm *RoomManager) Deliver(connIDs []string, frame []byte) BroadcastResult {
	start := time.Now()
	defer func() {
		rm.metrics.RecordBroadcastLatency(time.Since(start))
	}()

	var result BroadcastResult
	if len(connIDs) <= rm.config.ParallelThreshold {
		for _, id := range connIDs {
			if rm.send(id, frame) {
				result.Delivered++
				result.Reached = append(result.Reached, id)
			} else {
				result.Failed = append(result.Failed, id)
			}
		}
		return result
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(rm.config.Workers)
	for _, id := range connIDs {
		g.Go(func() error {
			ok := rm.send(id, frame)
			mu.Lock()
			if ok {
				result.Delivered++
				result.Reached = append(result.Reached, id)
			} else {
				result.Failed = append(result.Failed, id)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(result.Reached)
	sort.Strings(result.Failed)
	return result
}

func (rm *RoomManager) send(connID string, frame []byte) bool {
	conn, ok := rm.resolver.Lookup(connID)
	if !ok {
		return false
	}
	if err := conn.SendFrame(frame); err != nil {
		if errors.Is(err, ErrChannelFull) {
			rm.metrics.IncrementDroppedMessages()
		}
		return false
	}
	return true
}

// Members 房间成员（已排序）
func (rm *RoomManager) Members(roomID string) []string {
	rm.mu.RLock()
	members := rm.rooms[roomID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	rm.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// RoomsOf 连接加入的房间（已排序）
func (rm *RoomManager) RoomsOf(connID string) []string {
	rm.mu.RLock()
	joined := rm.byConn[connID]
	ids := make([]string, 0, len(joined))
	for id := range joined {
		ids = append(ids, id)
	}
	rm.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// IsMember 连接是否在房间中
func (rm *RoomManager) IsMember(connID, roomID string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.rooms[roomID][connID]
	return ok
}

// RoomCount 非空房间数
func (rm *RoomManager) RoomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}
