// Package chat implements the messaging operations: joining as a user, joining
// rooms, room messages and direct messages. Transports (websocket, HTTP) call
// into Service; all cross-connection state goes through presence.Registry.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/alumnichat/internal/access"
	"github.com/alumnichat/internal/apperr"
	"github.com/alumnichat/internal/event"
	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/metrics"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/presence"
	"github.com/alumnichat/internal/rooms"
	"github.com/alumnichat/internal/storage"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

type Service struct {
	store    storage.Store
	rooms    *rooms.Directory
	registry *presence.Registry
	timeout  time.Duration
	now      func() time.Time
}

func NewService(store storage.Store, dir *rooms.Directory, registry *presence.Registry, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		store:    store,
		rooms:    dir,
		registry: registry,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Rooms() *rooms.Directory       { return s.rooms }
func (s *Service) Registry() *presence.Registry { return s.registry }

// User resolves a user through the user store.
func (s *Service) User(ctx context.Context, id string) (*model.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("user_id required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, apperr.Persistence("chat.User", err)
	}
	return u, nil
}

// VerifiedUser resolves a user and fails with ErrNotVerified for non-alumni.
func (s *Service) VerifiedUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.User(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsVerifiedAlumni {
		return nil, apperr.ErrNotVerified
	}
	return u, nil
}

// JoinUser binds conn to userID, then auto-joins the cohort room, or the
// program-track room when the user has no cohort. fallbackName is used only
// when the user store has no display name.
func (s *Service) JoinUser(ctx context.Context, conn presence.Conn, userID, fallbackName string) error {
	defer logger.DeferLogDuration("chat.JoinUser", time.Now())()
	u, err := s.User(ctx, userID)
	if err != nil {
		return err
	}
	id := presence.IdentityOf(u)
	if id.Name == "" {
		id.Name = strings.TrimSpace(fallbackName)
	}
	if !id.VerifiedAlumni {
		return apperr.ErrNotVerified
	}

	// комнату получаем до регистрации: при ошибке соединение остаётся неподключённым
	var room *model.Room
	switch {
	case u.Cohort != "":
		room, err = s.rooms.GetOrCreateAttributeRoom(ctx, model.CohortScope{Cohort: u.Cohort})
	case u.ProgramTrack != "":
		room, err = s.rooms.GetOrCreateAttributeRoom(ctx, model.TrackScope{Track: u.ProgramTrack})
	}
	if err != nil {
		return err
	}

	if err := s.registry.Register(ctx, conn, id); err != nil {
		return err
	}
	s.deliver(conn, event.Outgoing{Type: event.UserJoined, Payload: event.UserJoinedPayload{
		UserID:   id.UserID,
		UserName: id.Name,
		Status:   string(model.StatusOnline),
	}})
	if room == nil {
		return nil
	}
	if err := s.registry.SetCurrentRoom(ctx, conn, room.ID); err != nil {
		return err
	}
	s.deliver(conn, event.Outgoing{Type: event.JoinedRoom, Payload: event.JoinedRoomPayload{RoomID: room.ID, RoomName: room.Name}})
	return nil
}

// JoinRoom moves the connection into roomID after the access check.
func (s *Service) JoinRoom(ctx context.Context, conn presence.Conn, roomID string) (*model.Room, error) {
	sess, ok := s.registry.Lookup(conn.ID())
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	room, err := s.rooms.Get(ctx, strings.TrimSpace(roomID))
	if err != nil {
		return nil, err
	}
	if !access.CanAccess(sess.Attributes(), room) {
		return nil, apperr.ErrAccessDenied
	}
	if err := s.registry.SetCurrentRoom(ctx, conn, room.ID); err != nil {
		return nil, err
	}
	s.deliver(conn, event.Outgoing{Type: event.JoinedRoom, Payload: event.JoinedRoomPayload{RoomID: room.ID, RoomName: room.Name}})
	return room, nil
}

// Disconnect clears the connection from the registry. Safe to call more than once.
func (s *Service) Disconnect(ctx context.Context, conn presence.Conn) {
	s.registry.Unregister(ctx, conn)
}

// PresenceOf prefers the live registry and falls back to the durable record.
func (s *Service) PresenceOf(ctx context.Context, userID string) (model.PresenceRecord, error) {
	if sess, ok := s.registry.SessionForUser(userID); ok {
		rec := model.PresenceRecord{UserID: userID, Status: model.StatusOnline, LastSeen: s.now()}
		if sess.RoomID != "" {
			room := sess.RoomID
			rec.CurrentRoom = &room
		}
		return rec, nil
	}
	if _, err := s.User(ctx, userID); err != nil {
		return model.PresenceRecord{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rec, err := s.store.GetPresence(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.PresenceRecord{UserID: userID, Status: model.StatusOffline}, nil
	}
	if err != nil {
		return model.PresenceRecord{}, apperr.Persistence("chat.PresenceOf", err)
	}
	return *rec, nil
}

func (s *Service) deliver(conn presence.Conn, ev event.Outgoing) bool {
	if !conn.Send(ev) {
		return false
	}
	metrics.Deliveries.WithLabelValues(string(ev.Type)).Inc()
	return true
}

// Page normalises limit/offset of the paginated reads.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
