package chat

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alumnichat/internal/access"
	"github.com/alumnichat/internal/apperr"
	"github.com/alumnichat/internal/event"
	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/metrics"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/presence"
)

// PostMessage stores the message and then sends new_message to every
// connection currently in the room, the sender included. Nothing is sent when
// the write fails.
func (s *Service) PostMessage(ctx context.Context, conn presence.Conn, p event.SendMessagePayload) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.PostMessage", time.Now())()
	sess, ok := s.registry.Lookup(conn.ID())
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return nil, apperr.Validation("room_id required")
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return nil, apperr.Validation("content required")
	}
	msgType, err := model.ParseMessageType(p.MessageType)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !access.CanAccess(sess.Attributes(), room) {
		return nil, apperr.ErrAccessDenied
	}

	now := s.now()
	m := &model.Message{
		ID:          uuid.New().String(),
		RoomID:      room.ID,
		SenderID:    sess.UserID,
		SenderName:  sess.Name,
		MessageType: msgType,
		Content:     content,
		ImageURL:    strings.TrimSpace(p.ImageURL),
		FileURL:     strings.TrimSpace(p.FileURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if r := strings.TrimSpace(p.ReplyTo); r != "" {
		m.ReplyTo = &r
	}

	// соединение могло закрыться, пока шли проверки
	if _, ok := s.registry.Lookup(conn.ID()); !ok {
		return nil, apperr.ErrUnauthenticated
	}
	if err := s.createMessage(ctx, m); err != nil {
		logger.Errorf("chat save message room=%s user=%s: %v", room.ID, sess.UserID, err)
		return nil, apperr.Persistence("chat.PostMessage", err)
	}
	metrics.MessagesPersisted.WithLabelValues("room").Inc()

	out := event.NewMessageOf(m)
	for _, c := range s.registry.ConnsInRoom(room.ID) {
		s.deliver(c, out)
	}
	return m, nil
}

func (s *Service) createMessage(ctx context.Context, m *model.Message) error {
	defer metrics.ObserveStore("message.create", time.Now())
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.CreateMessage(ctx, m)
}

// ListMessages returns a page of the room history in chronological order.
// The page is taken newest-first, so offset 0 is the most recent messages.
func (s *Service) ListMessages(ctx context.Context, userID, roomID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("chat.ListMessages", time.Now())()
	u, err := s.VerifiedUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	room, err := s.rooms.Get(ctx, strings.TrimSpace(roomID))
	if err != nil {
		return nil, err
	}
	if !access.CanAccess(u.Attributes(), room) {
		return nil, apperr.ErrAccessDenied
	}

	limit, offset = Page(limit, offset)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	msgs, err := s.store.ListRoomMessages(ctx, room.ID, limit, offset)
	if err != nil {
		return nil, apperr.Persistence("chat.ListMessages", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}
