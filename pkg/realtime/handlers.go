package realtime

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tokmz/linkup/pkg/errors"
	"github.com/tokmz/linkup/pkg/eventsink"
	"github.com/tokmz/linkup/pkg/protocol"
	"github.com/tokmz/linkup/pkg/store"
)

// registerHandlers 注册内置报文处理器
func (h *Hub) registerHandlers() error {
	r := h.router
	for _, err := range []error{
		r.Register(protocol.KindPing, h.handlePing),
		Handle(r, protocol.KindJoinRoom, h.handleJoinRoom),
		Handle(r, protocol.KindLeaveRoom, h.handleLeaveRoom),
		Handle(r, protocol.KindSendMessage, h.handleSendMessage),
		Handle(r, protocol.KindTypingStart, h.handleTyping),
		Handle(r, protocol.KindTypingStop, h.handleTyping),
		Handle(r, protocol.KindMarkRead, h.handleMarkRead),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) handlePing(_ context.Context, s *Session, env *protocol.Envelope) error {
	h.registry.TouchHeartbeat(s.ID())
	return s.Reply(protocol.KindPong, env.ID, protocol.Pong{ServerTime: time.Now().UnixMilli()})
}

func requireConversation(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.ErrInvalidPayload.WithMessage("conversationId is required")
	}
	return nil
}

// requireParticipant 非参与者与不存在的会话统一返回 NOT_FOUND
func (h *Hub) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := h.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	if !ok {
		return errors.ErrNotFound
	}
	return nil
}

func (h *Hub) handleJoinRoom(ctx context.Context, s *Session, env *protocol.Envelope, req *protocol.ConversationRef) error {
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}
	if err := h.requireParticipant(ctx, req.ConversationID, s.UserID()); err != nil {
		return err
	}

	roomID := protocol.RoomID(req.ConversationID)
	if err := h.rooms.Join(s.ID(), roomID); err != nil {
		return err
	}
	return s.Reply(protocol.KindConversationJoined, env.ID, protocol.RoomAck{
		ConversationID: req.ConversationID,
		RoomID:         roomID,
	})
}

func (h *Hub) handleLeaveRoom(_ context.Context, s *Session, env *protocol.Envelope, req *protocol.ConversationRef) error {
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}

	roomID := protocol.RoomID(req.ConversationID)
	h.rooms.Leave(s.ID(), roomID)
	return s.Reply(protocol.KindConversationLeft, env.ID, protocol.RoomAck{
		ConversationID: req.ConversationID,
		RoomID:         roomID,
	})
}

// handleTyping 输入状态只广播给房间内其他连接，不持久化也不入离线队列
func (h *Hub) handleTyping(_ context.Context, s *Session, env *protocol.Envelope, req *protocol.ConversationRef) error {
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}

	roomID := protocol.RoomID(req.ConversationID)
	if !h.rooms.IsMember(s.ID(), roomID) {
		return errors.ErrNotFound
	}

	out, err := protocol.New(protocol.KindUserTyping, "", protocol.Typing{
		ConversationID: req.ConversationID,
		UserID:         s.UserID(),
		Typing:         env.Type == protocol.KindTypingStart,
	})
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	h.rooms.Broadcast(roomID, out, s.ID())
	return nil
}

func (h *Hub) handleSendMessage(ctx context.Context, s *Session, env *protocol.Envelope, req *protocol.SendMessage) error {
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return errors.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > h.cfg.MaxContentLength {
		return errors.ErrContentTooLong
	}
	if err := h.requireParticipant(ctx, req.ConversationID, s.UserID()); err != nil {
		return err
	}

	// 重连后重放的意图：已持久化的只重新确认。
	// 过滤器只覆盖本进程见过的 ID，重启或多实例时由存储的唯一约束兜底
	if req.ClientMessageID != "" && h.deduper.MaybeSeen(s.UserID(), req.ClientMessageID) {
		if done, err := h.reAckExisting(ctx, s, env, req.ClientMessageID); done || err != nil {
			return err
		}
	}

	saved, err := h.store.CreateMessage(ctx, store.NewMessage{
		ConversationID:  req.ConversationID,
		SenderID:        s.UserID(),
		Content:         content,
		ClientMessageID: req.ClientMessageID,
	})
	if errors.Is(err, store.ErrDuplicateMessage) {
		h.deduper.Add(s.UserID(), req.ClientMessageID)
		if done, err := h.reAckExisting(ctx, s, env, req.ClientMessageID); done || err != nil {
			return err
		}
		return errors.ErrInternal.WithError(err)
	}
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	if req.ClientMessageID != "" {
		h.deduper.Add(s.UserID(), req.ClientMessageID)
	}

	body := protocol.MessageEvent{Message: toWire(saved)}
	roomID := protocol.RoomID(req.ConversationID)

	live, err := protocol.New(protocol.KindNewMessage, "", body)
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	sent := h.rooms.Broadcast(roomID, live, s.ID())

	if err := s.Reply(protocol.KindMessageSent, env.ID, body); err != nil {
		s.log.Warn("ack message failed", zap.String("message_id", saved.ID), zap.Error(err))
	}

	h.enqueueOffline(ctx, s.UserID(), req.ConversationID, body, sent.Reached)

	h.publish(eventsink.Event{
		Type:           eventsink.EventMessageCreated,
		ConversationID: req.ConversationID,
		UserID:         s.UserID(),
		Payload:        body.Message,
		At:             saved.CreatedAt,
	})
	return nil
}

// reAckExisting 消息已持久化时按原记录回复 message-sent，done 表示已处理
func (h *Hub) reAckExisting(ctx context.Context, s *Session, env *protocol.Envelope, clientMessageID string) (bool, error) {
	existing, err := h.store.FindByClientID(ctx, s.UserID(), clientMessageID)
	if err != nil {
		return false, errors.ErrInternal.WithError(err)
	}
	if existing == nil {
		return false, nil
	}
	h.metrics.IncrementDuplicateSends()
	return true, s.Reply(protocol.KindMessageSent, env.ID, protocol.MessageEvent{Message: toWire(existing)})
}

// enqueueOffline 为广播没有送达的其他参与者排队 message-notification
//
// 以 reached 而不是在线状态判断：广播快照之后才完成激活的连接既在线又在房间里，却没收到这条消息。
func (h *Hub) enqueueOffline(ctx context.Context, senderID, conversationID string, body protocol.MessageEvent, reached []string) {
	participants, err := h.store.ListParticipants(ctx, conversationID)
	if err != nil {
		h.log.Error("list participants failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}

	for _, userID := range participants {
		if userID == senderID || h.anyReached(userID, reached) {
			continue
		}
		note, err := protocol.New(protocol.KindMessageNotification, "", body)
		if err != nil {
			continue
		}
		if err := h.queue.Enqueue(ctx, userID, note); err != nil {
			h.log.Error("enqueue offline failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		h.metrics.IncrementOfflineEnqueued()
	}
}

func (h *Hub) anyReached(userID string, reached []string) bool {
	for _, connID := range h.registry.ConnectionsFor(userID) {
		if slices.Contains(reached, connID) {
			return true
		}
	}
	return false
}

func (h *Hub) handleMarkRead(ctx context.Context, s *Session, env *protocol.Envelope, req *protocol.ConversationRef) error {
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}
	if err := h.requireParticipant(ctx, req.ConversationID, s.UserID()); err != nil {
		return err
	}

	count, err := h.store.MarkRead(ctx, req.ConversationID, s.UserID())
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}

	receipt := protocol.ReadReceipt{
		ConversationID: req.ConversationID,
		UserID:         s.UserID(),
		Count:          count,
	}
	out, err := protocol.New(protocol.KindMessagesRead, env.ID, receipt)
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}

	roomID := protocol.RoomID(req.ConversationID)
	h.rooms.Broadcast(roomID, out)
	if !h.rooms.IsMember(s.ID(), roomID) {
		if err := s.Send(out); err != nil {
			return errors.ErrTransport.WithError(err)
		}
	}

	h.publish(eventsink.Event{
		Type:           eventsink.EventMessagesRead,
		ConversationID: req.ConversationID,
		UserID:         s.UserID(),
		Payload:        receipt,
	})
	return nil
}

func toWire(m *store.Message) protocol.Message {
	return protocol.Message{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Content:         m.Content,
		ClientMessageID: m.ClientMessageID,
		CreatedAt:       m.CreatedAt,
	}
}
