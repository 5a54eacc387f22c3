// Package eventsink 将实时核心的领域事件投递到外部消息系统
//
// 单进程部署时作为多节点扩展的接缝：其他节点或下游服务订阅这些事件。
package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// 事件类型
const (
	EventMessageCreated  = "message.created"
	EventMessagesRead    = "messages.read"
	EventPresenceChanged = "presence.changed"
)

// Event 领域事件
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Payload        any       `json:"payload,omitempty"`
	At             time.Time `json:"at"`
}

// Key 分区键，优先会话 ID，保证同一会话内有序
func (e Event) Key() string {
	if e.ConversationID != "" {
		return e.ConversationID
	}
	return e.UserID
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Sink 事件投递目标
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi 依次投递到多个 Sink，返回合并后的错误
type Multi []Sink

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
