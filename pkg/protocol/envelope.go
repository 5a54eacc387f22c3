package protocol

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tokmz/linkup/pkg/errors"
)

// Kind 报文类型
type Kind = string

const (
	KindPing                Kind = "ping"
	KindPong                Kind = "pong"
	KindJoinRoom            Kind = "join-room"
	KindConversationJoined  Kind = "conversation-joined"
	KindLeaveRoom           Kind = "leave-room"
	KindConversationLeft    Kind = "conversation-left"
	KindSendMessage         Kind = "send-message"
	KindMessageSent         Kind = "message-sent"
	KindNewMessage          Kind = "new-message"
	KindMessageNotification Kind = "message-notification"
	KindTypingStart         Kind = "typing-start"
	KindTypingStop          Kind = "typing-stop"
	KindUserTyping          Kind = "user-typing"
	KindMarkRead            Kind = "mark-read"
	KindMessagesRead        Kind = "messages-read"
	KindUserStatusChanged   Kind = "user-status-changed"
	KindError               Kind = "error"
	KindConnectionAck       Kind = "connection-ack"
)

// Envelope 线上报文
//
// 出站报文必须带 ID：回复类报文回显入站 ID，服务端主动推送生成新 ID。
type Envelope struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix 毫秒
}

// New 创建出站报文，correlationID 为空时生成新 ID，data 为 nil 时编码为 {}
func New(kind Kind, correlationID string, data any) (*Envelope, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	if correlationID == "" {
		correlationID = NewID()
	}
	return &Envelope{
		Type:      kind,
		Data:      raw,
		ID:        correlationID,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// MustNew 同 New，编码失败时 panic，仅用于静态可编码的数据
func MustNew(kind Kind, correlationID string, data any) *Envelope {
	env, err := New(kind, correlationID, data)
	if err != nil {
		panic(err)
	}
	return env
}

// NewID 生成关联 ID
func NewID() string {
	return uuid.NewString()
}

// Encode 编码为线上格式
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Data) == 0 {
		e.Data = emptyObject
	}
	return json.Marshal(e)
}

// Bind 将 Data 解析到 v，失败返回校验错误
func (e *Envelope) Bind(v any) error {
	data := e.Data
	if len(data) == 0 || bytes.Equal(data, nullLiteral) {
		data = emptyObject
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.ErrInvalidPayload.WithError(err)
	}
	return nil
}

var (
	emptyObject = json.RawMessage(`{}`)
	nullLiteral = []byte("null")
)

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(v) == 0 {
			return emptyObject, nil
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
