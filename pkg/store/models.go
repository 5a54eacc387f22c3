package store

import "time"

type conversationModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string `gorm:"size:255"`
	CreatedAt time.Time
}

func (conversationModel) TableName() string { return "conversations" }

type participantModel struct {
	ConversationID string `gorm:"primaryKey;size:64"`
	UserID         string `gorm:"primaryKey;size:64;index"`
	JoinedAt       time.Time
}

func (participantModel) TableName() string { return "participants" }

type messageModel struct {
	ID              string  `gorm:"primaryKey;size:64"`
	ConversationID  string  `gorm:"size:64;index:idx_messages_conversation"`
	SenderID        string  `gorm:"size:64;uniqueIndex:idx_messages_client,priority:1"`
	Content         string  `gorm:"type:text"`
	ClientMessageID *string `gorm:"size:128;uniqueIndex:idx_messages_client,priority:2"` // 为空时存 NULL，不参与唯一约束
	CreatedAt       time.Time
}

func (messageModel) TableName() string { return "messages" }

func (m *messageModel) toMessage() *Message {
	msg := &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	if m.ClientMessageID != nil {
		msg.ClientMessageID = *m.ClientMessageID
	}
	return msg
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type readReceiptModel struct {
	MessageID string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:64"`
	ReadAt    time.Time
}

func (readReceiptModel) TableName() string { return "read_receipts" }
