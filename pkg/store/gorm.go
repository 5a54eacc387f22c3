package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm 基于 gorm 的 Store
type Gorm struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGorm 创建 Store
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db, now: time.Now}
}

// AutoMigrate 创建或更新表结构
func (s *Gorm) AutoMigrate() error {
	return s.db.AutoMigrate(
		&conversationModel{},
		&participantModel{},
		&messageModel{},
		&readReceiptModel{},
	)
}

func (s *Gorm) CreateConversation(ctx context.Context, id, title string, participants []string) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := conversationModel{ID: id, Title: title, CreatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&conv).Error; err != nil {
			return err
		}
		if len(participants) == 0 {
			return nil
		}
		rows := make([]participantModel, 0, len(participants))
		for _, userID := range participants {
			rows = append(rows, participantModel{ConversationID: id, UserID: userID, JoinedAt: now})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}

func (s *Gorm) CreateMessage(ctx context.Context, in NewMessage) (*Message, error) {
	m := messageModel{
		ID:              uuid.NewString(),
		ConversationID:  in.ConversationID,
		SenderID:        in.SenderID,
		Content:         in.Content,
		ClientMessageID: nullable(in.ClientMessageID),
		CreatedAt:       s.now(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrDuplicateMessage
	}
	return m.toMessage(), nil
}

func (s *Gorm) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	var marked int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		read := tx.Model(&readReceiptModel{}).Select("message_id").Where("user_id = ?", userID)

		var ids []string
		err := tx.Model(&messageModel{}).
			Where("conversation_id = ? AND sender_id <> ?", conversationID, userID).
			Where("id NOT IN (?)", read).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		now := s.now()
		receipts := make([]readReceiptModel, 0, len(ids))
		for _, id := range ids {
			receipts = append(receipts, readReceiptModel{MessageID: id, UserID: userID, ReadAt: now})
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&receipts, 200)
		if res.Error != nil {
			return res.Error
		}
		marked = res.RowsAffected
		return nil
	})
	return marked, err
}

func (s *Gorm) ListRoomsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&participantModel{}).
		Where("user_id = ?", userID).
		Order("conversation_id").
		Pluck("conversation_id", &ids).Error
	return ids, err
}

func (s *Gorm) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&participantModel{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error
	return n > 0, err
}

func (s *Gorm) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&participantModel{}).
		Where("conversation_id = ?", conversationID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *Gorm) FindByClientID(ctx context.Context, senderID, clientMessageID string) (*Message, error) {
	if clientMessageID == "" {
		return nil, nil
	}
	var m messageModel
	err := s.db.WithContext(ctx).
		Where("sender_id = ? AND client_message_id = ?", senderID, clientMessageID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.toMessage(), nil
}
