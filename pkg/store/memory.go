package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memConversation struct {
	title        string
	participants map[string]struct{}
	messages     []*Message
}

// Memory 进程内 Store，用于开发与测试
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*memConversation
	reads         map[string]map[string]struct{} // userID -> messageID
	byClientID    map[string]*Message            // senderID|clientMessageID
	now           func() time.Time
}

// NewMemory 创建内存 Store
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*memConversation),
		reads:         make(map[string]map[string]struct{}),
		byClientID:    make(map[string]*Message),
		now:           time.Now,
	}
}

func clientKey(senderID, clientMessageID string) string {
	return senderID + "|" + clientMessageID
}

func (s *Memory) CreateConversation(_ context.Context, id, title string, participants []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		conv = &memConversation{title: title, participants: make(map[string]struct{})}
		s.conversations[id] = conv
	}
	for _, userID := range participants {
		conv.participants[userID] = struct{}{}
	}
	return nil
}

func (s *Memory) CreateMessage(_ context.Context, in NewMessage) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ClientMessageID != "" {
		if _, ok := s.byClientID[clientKey(in.SenderID, in.ClientMessageID)]; ok {
			return nil, ErrDuplicateMessage
		}
	}

	m := &Message{
		ID:              uuid.NewString(),
		ConversationID:  in.ConversationID,
		SenderID:        in.SenderID,
		Content:         in.Content,
		ClientMessageID: in.ClientMessageID,
		CreatedAt:       s.now(),
	}
	conv, ok := s.conversations[in.ConversationID]
	if !ok {
		conv = &memConversation{participants: make(map[string]struct{})}
		s.conversations[in.ConversationID] = conv
	}
	conv.messages = append(conv.messages, m)
	if in.ClientMessageID != "" {
		s.byClientID[clientKey(in.SenderID, in.ClientMessageID)] = m
	}

	c := *m
	return &c, nil
}

func (s *Memory) MarkRead(_ context.Context, conversationID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0, nil
	}
	read, ok := s.reads[userID]
	if !ok {
		read = make(map[string]struct{})
		s.reads[userID] = read
	}

	var marked int64
	for _, m := range conv.messages {
		if m.SenderID == userID {
			continue
		}
		if _, seen := read[m.ID]; seen {
			continue
		}
		read[m.ID] = struct{}{}
		marked++
	}
	return marked, nil
}

func (s *Memory) ListRoomsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, conv := range s.conversations {
		if _, ok := conv.participants[userID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Memory) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return false, nil
	}
	_, ok = conv.participants[userID]
	return ok, nil
}

func (s *Memory) ListParticipants(_ context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(conv.participants))
	for id := range conv.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Memory) FindByClientID(_ context.Context, senderID, clientMessageID string) (*Message, error) {
	if clientMessageID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byClientID[clientKey(senderID, clientMessageID)]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}
