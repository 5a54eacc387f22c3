package protocol

import "time"

// RoomPrefix 会话房间前缀
const RoomPrefix = "conversation:"

// RoomID 由会话 ID 派生房间 ID
func RoomID(conversationID string) string {
	return RoomPrefix + conversationID
}

// ConversationID 从房间 ID 还原会话 ID
func ConversationID(roomID string) (string, bool) {
	if len(roomID) <= len(RoomPrefix) || roomID[:len(RoomPrefix)] != RoomPrefix {
		return "", false
	}
	return roomID[len(RoomPrefix):], true
}

// ConversationRef join-room / leave-room / typing-* / mark-read 的请求体
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// RoomAck conversation-joined / conversation-left
type RoomAck struct {
	ConversationID string `json:"conversationId"`
	RoomID         string `json:"roomId"`
}

// SendMessage send-message 请求体
type SendMessage struct {
	ConversationID  string `json:"conversationId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// Message 消息体，用于 new-message / message-sent / message-notification
type Message struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversationId"`
	SenderID        string    `json:"senderId"`
	Content         string    `json:"content"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// MessageEvent 消息推送包装
type MessageEvent struct {
	Message Message `json:"message"`
}

// Typing user-typing
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Typing         bool   `json:"typing"`
}

// ReadReceipt messages-read
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Count          int64  `json:"count"`
}

// Presence status
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusChanged user-status-changed
type StatusChanged struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen"` // Unix 毫秒
}

// Pong pong
type Pong struct {
	ServerTime int64 `json:"serverTime"`
}

// ConnectionAck 激活完成，queued 为本次连接投递的离线消息数
type ConnectionAck struct {
	ConnectionID string   `json:"connectionId"`
	UserID       string   `json:"userId"`
	Rooms        []string `json:"rooms"`
	Queued       int      `json:"queued"`
	ServerTime   int64    `json:"serverTime"`
}

// ErrorBody error
type ErrorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
