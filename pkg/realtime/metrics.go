package realtime

import "time"

// Metrics 监控接口
type Metrics interface {
	// 连接
	IncrementConnections()
	DecrementConnections()
	SetConnectionCount(count int)
	IncrementRejectedConnections(reason string)

	// 报文
	IncrementMessageCount(kind string)
	RecordMessageLatency(kind string, d time.Duration)
	IncrementMessageErrors(kind string)
	IncrementInvalidMessages()
	IncrementRateLimited(stage string)
	IncrementDuplicateSends()

	// 房间与广播
	SetRoomCount(count int)
	RecordBroadcastLatency(d time.Duration)
	IncrementDroppedMessages()

	// 在线状态与离线队列
	IncrementPresenceTransitions(status string)
	IncrementOfflineEnqueued()
	AddOfflineDelivered(n int)

	// 传输
	IncrementReadErrors()
	IncrementWriteErrors()
	IncrementDeadConnections()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()                      {}
func (NoopMetrics) DecrementConnections()                      {}
func (NoopMetrics) SetConnectionCount(int)                     {}
func (NoopMetrics) IncrementRejectedConnections(string)        {}
func (NoopMetrics) IncrementMessageCount(string)               {}
func (NoopMetrics) RecordMessageLatency(string, time.Duration) {}
func (NoopMetrics) IncrementMessageErrors(string)              {}
func (NoopMetrics) IncrementInvalidMessages()                  {}
func (NoopMetrics) IncrementRateLimited(string)                {}
func (NoopMetrics) IncrementDuplicateSends()                   {}
func (NoopMetrics) SetRoomCount(int)                           {}
func (NoopMetrics) RecordBroadcastLatency(time.Duration)       {}
func (NoopMetrics) IncrementDroppedMessages()                  {}
func (NoopMetrics) IncrementPresenceTransitions(string)        {}
func (NoopMetrics) IncrementOfflineEnqueued()                  {}
func (NoopMetrics) AddOfflineDelivered(int)                    {}
func (NoopMetrics) IncrementReadErrors()                       {}
func (NoopMetrics) IncrementWriteErrors()                      {}
func (NoopMetrics) IncrementDeadConnections()                  {}
