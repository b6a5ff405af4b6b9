package chat

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alumnichat/internal/apperr"
	"github.com/alumnichat/internal/event"
	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/metrics"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/presence"
	"github.com/alumnichat/internal/storage"
)

// SendDirect stores a direct message as unread and delivers it to the sender's
// connection and, if online, to the receiver's. An offline receiver reads it
// from history later.
func (s *Service) SendDirect(ctx context.Context, conn presence.Conn, p event.SendDirectMessagePayload) (*model.DirectMessage, error) {
	defer logger.DeferLogDuration("chat.SendDirect", time.Now())()
	sess, ok := s.registry.Lookup(conn.ID())
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	receiverID := strings.TrimSpace(p.ReceiverID)
	if receiverID == "" {
		return nil, apperr.Validation("receiver_id required")
	}
	if receiverID == sess.UserID {
		return nil, apperr.Validation("cannot send a direct message to yourself")
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return nil, apperr.Validation("content required")
	}
	msgType, err := model.ParseMessageType(p.MessageType)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	receiver, err := s.User(ctx, receiverID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound("receiver")
	}
	if err != nil {
		return nil, err
	}

	m := &model.DirectMessage{
		ID:           uuid.New().String(),
		SenderID:     sess.UserID,
		SenderName:   sess.Name,
		ReceiverID:   receiver.ID,
		ReceiverName: receiver.Name,
		MessageType:  msgType,
		Content:      content,
		ImageURL:     strings.TrimSpace(p.ImageURL),
		FileURL:      strings.TrimSpace(p.FileURL),
		CreatedAt:    s.now(),
	}

	if _, ok := s.registry.Lookup(conn.ID()); !ok {
		return nil, apperr.ErrUnauthenticated
	}
	if err := s.createDirect(ctx, m); err != nil {
		logger.Errorf("chat save direct message from=%s to=%s: %v", m.SenderID, m.ReceiverID, err)
		return nil, apperr.Persistence("chat.SendDirect", err)
	}
	metrics.MessagesPersisted.WithLabelValues("direct").Inc()

	out := event.NewDirectMessageOf(m)
	s.deliver(conn, out)
	if rc, ok := s.registry.ConnForUser(receiver.ID); ok && rc.ID() != conn.ID() {
		s.deliver(rc, out)
	}
	return m, nil
}

func (s *Service) createDirect(ctx context.Context, m *model.DirectMessage) error {
	defer metrics.ObserveStore("direct.create", time.Now())
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.CreateDirectMessage(ctx, m)
}

// ListThread returns a page of the thread between userID and peerID in
// chronological order and marks the peer's unread messages to userID as read.
func (s *Service) ListThread(ctx context.Context, userID, peerID string, limit, offset int) ([]model.DirectMessage, error) {
	defer logger.DeferLogDuration("chat.ListThread", time.Now())()
	u, err := s.VerifiedUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return nil, apperr.Validation("other_user_id required")
	}

	limit, offset = Page(limit, offset)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	msgs, err := s.store.ListThread(ctx, u.ID, peerID, limit, offset)
	if err != nil {
		return nil, apperr.Persistence("chat.ListThread", err)
	}
	n, err := s.store.MarkThreadRead(ctx, u.ID, peerID)
	if err != nil {
		return nil, apperr.Persistence("chat.MarkThreadRead", err)
	}
	if n > 0 {
		for i := range msgs {
			if msgs[i].ReceiverID == u.ID {
				msgs[i].IsRead = true
			}
		}
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// ListConversations returns one entry per peer, most recent conversation first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("chat.ListConversations", time.Now())()
	u, err := s.VerifiedUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	convs, err := s.store.Conversations(ctx, u.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return []model.Conversation{}, nil
	}
	if err != nil {
		return nil, apperr.Persistence("chat.ListConversations", err)
	}
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastMessage, convs[j].LastMessage
		return model.Newer(a.CreatedAt, a.Seq, b.CreatedAt, b.Seq)
	})
	return convs, nil
}
