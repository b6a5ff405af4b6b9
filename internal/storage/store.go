package storage

import (
	"context"
	"errors"
	"io"

	"github.com/alumnichat/internal/model"
)

// ErrNotFound возвращается всеми реализациями, если запись отсутствует.
var ErrNotFound = errors.New("not found")

// UserStore: граница с CRUD-слоем пользователей.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
}

type RoomStore interface {
	CreateRoom(ctx context.Context, r *model.Room) error
	// GetRoom возвращает комнату независимо от is_active.
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	// FindAttributeRoom ищет активную cohort/program_track комнату по атрибуту.
	FindAttributeRoom(ctx context.Context, t model.RoomType, attr string) (*model.Room, error)
	// InsertAttributeRoom создаёт комнату или, если активная комната с тем же
	// (type, attribute) уже существует, возвращает её.
	InsertAttributeRoom(ctx context.Context, r *model.Room) (*model.Room, error)
	// ListParticipantRooms: активные custom-комнаты, где userID среди участников.
	ListParticipantRooms(ctx context.Context, userID string) ([]model.Room, error)
	DeactivateRoom(ctx context.Context, id string) error
}

type MessageStore interface {
	// CreateMessage назначает m.Seq.
	CreateMessage(ctx context.Context, m *model.Message) error
	// ListRoomMessages: неудалённые сообщения, новые первыми (created_at DESC, seq DESC).
	ListRoomMessages(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error)
}

type DirectMessageStore interface {
	// CreateDirectMessage назначает m.Seq.
	CreateDirectMessage(ctx context.Context, m *model.DirectMessage) error
	// ListThread: неудалённые сообщения между a и b в обе стороны, новые первыми.
	ListThread(ctx context.Context, a, b string, limit, offset int) ([]model.DirectMessage, error)
	// MarkThreadRead помечает прочитанными непрочитанные сообщения from → to.
	MarkThreadRead(ctx context.Context, to, from string) (int64, error)
	// Conversations группирует переписки пользователя по собеседнику.
	Conversations(ctx context.Context, userID string) ([]model.Conversation, error)
}

type PresenceStore interface {
	UpsertPresence(ctx context.Context, rec model.PresenceRecord) error
	GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error)
}

// Store: полный набор хранилищ ядра. Реализации: repository (Postgres),
// mongo, memory (для тестов и -store memory).
type Store interface {
	UserStore
	RoomStore
	MessageStore
	DirectMessageStore
	PresenceStore
	Close() error
}

// WithPresence возвращает store, у которого присутствие читается и пишется в p
// (например, Redis-зеркало вместо таблицы основной БД). Close закрывает оба.
func WithPresence(s Store, p PresenceStore) Store {
	if p == nil {
		return s
	}
	return &presenceOverride{Store: s, presence: p}
}

type presenceOverride struct {
	Store
	presence PresenceStore
}

func (o *presenceOverride) UpsertPresence(ctx context.Context, rec model.PresenceRecord) error {
	return o.presence.UpsertPresence(ctx, rec)
}

func (o *presenceOverride) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	return o.presence.GetPresence(ctx, userID)
}

func (o *presenceOverride) Close() error {
	var perr error
	if c, ok := o.presence.(io.Closer); ok {
		perr = c.Close()
	}
	return errors.Join(o.Store.Close(), perr)
}
