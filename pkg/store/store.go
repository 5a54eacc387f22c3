// Package store 会话与消息的持久化
//
// 实时核心只通过 Store 接口访问存储，表结构属于本包。
package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateMessage 同一发送者的客户端消息 ID 已被持久化
var ErrDuplicateMessage = errors.New("store: duplicate client message id")

// Store 实时核心依赖的存储操作
type Store interface {
	// CreateMessage 持久化消息并返回带 ID 与时间的记录，
	// 发送者与客户端消息 ID 重复时返回 ErrDuplicateMessage
	CreateMessage(ctx context.Context, in NewMessage) (*Message, error)
	// MarkRead 将会话中他人发送的未读消息标记为已读，返回本次标记数量
	MarkRead(ctx context.Context, conversationID, userID string) (int64, error)
	// ListRoomsForUser 返回用户参与的会话 ID
	ListRoomsForUser(ctx context.Context, userID string) ([]string, error)
	// IsParticipant 用户是否参与会话，会话不存在时返回 false
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	// ListParticipants 返回会话的全部参与者
	ListParticipants(ctx context.Context, conversationID string) ([]string, error)
	// FindByClientID 按客户端消息 ID 查找已持久化的消息，不存在时返回 nil, nil
	FindByClientID(ctx context.Context, senderID, clientMessageID string) (*Message, error)
}

// Seeder 创建会话，用于 fixtures 与测试
type Seeder interface {
	CreateConversation(ctx context.Context, id, title string, participants []string) error
}

// NewMessage 待持久化的消息
type NewMessage struct {
	ConversationID  string
	SenderID        string
	Content         string
	ClientMessageID string
}

// Message 已持久化的消息
type Message struct {
	ID              string
	ConversationID  string
	SenderID        string
	Content         string
	ClientMessageID string
	CreatedAt       time.Time
}
