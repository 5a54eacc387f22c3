package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokmz/linkup/pkg/eventsink"
)

// EventType 内部事件类型
type EventType string

const (
	// EventConnected 会话激活完成
	EventConnected EventType = "connection.connected"
	// EventDisconnected 会话关闭
	EventDisconnected EventType = "connection.disconnected"
	// EventDomain 需要投递到外部 Sink 的领域事件
	EventDomain EventType = "domain"
)

// Event 内部事件
type Event struct {
	Type   EventType
	ConnID string
	UserID string
	Domain *eventsink.Event // 仅 EventDomain
	Time   time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 事件总线
//
// 处理器在固定数量的 worker 中异步执行，慢处理器不会阻塞消息分发。
type EventBus struct {
	handlers      map[EventType][]EventHandler
	mu            sync.RWMutex
	workerCh      chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	closeOnce     sync.Once
	droppedEvents atomic.Int64
}

// NewEventBus 创建事件总线
func NewEventBus(workers, queueSize int) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), queueSize),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			task()
		case <-eb.stopCh:
			// 退出前执行完已入队的任务
			for {
				select {
				case task := <-eb.workerCh:
					task()
				default:
					return
				}
			}
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 发布事件（异步）
func (eb *EventBus) Publish(event Event) {
	if eb.closed.Load() {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		task := func() { h(event) }

		// 连接事件影响连接计数，短暂等待；其余事件队列满即丢弃
		if event.Type == EventConnected || event.Type == EventDisconnected {
			select {
			case eb.workerCh <- task:
			case <-time.After(100 * time.Millisecond):
				eb.droppedEvents.Add(1)
			}
			continue
		}
		select {
		case eb.workerCh <- task:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close 关闭事件总线并等待 worker 退出
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.closed.Store(true)
		close(eb.stopCh)
		eb.wg.Wait()
	})
}

// DroppedEvents 丢弃的事件数量
func (eb *EventBus) DroppedEvents() int64 {
	return eb.droppedEvents.Load()
}
