package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/storage"
)

// Client: хранилище в памяти процесса: тесты и запуск с -store memory.
// Реализует storage.Store.
type Client struct {
	mu       sync.RWMutex
	seq      int64
	users    map[string]model.User
	rooms    map[string]model.RoomRow
	roomIDs  []string
	messages []model.Message
	direct   []model.DirectMessage
	presence map[string]model.PresenceRecord
}

var _ storage.Store = (*Client)(nil)

func New() *Client {
	return &Client{
		users:    make(map[string]model.User),
		rooms:    make(map[string]model.RoomRow),
		presence: make(map[string]model.PresenceRecord),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) nextSeq() int64 {
	c.seq++
	return c.seq
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (c *Client) CreateUser(ctx context.Context, u *model.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = *u
	return nil
}

func (c *Client) CreateRoom(ctx context.Context, r *model.Room) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putRoom(r.Row())
	return nil
}

func (c *Client) putRoom(row model.RoomRow) {
	if _, ok := c.rooms[row.ID]; !ok {
		c.roomIDs = append(c.roomIDs, row.ID)
	}
	c.rooms[row.ID] = row
}

func (c *Client) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rooms[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return row.Room()
}

func (c *Client) findAttributeRoom(t model.RoomType, attr string) (model.RoomRow, bool) {
	for _, id := range c.roomIDs {
		row := c.rooms[id]
		if !row.IsActive || row.RoomType != t {
			continue
		}
		if (t == model.RoomTypeCohort && row.Cohort == attr) ||
			(t == model.RoomTypeProgramTrack && row.ProgramTrack == attr) {
			return row, true
		}
	}
	return model.RoomRow{}, false
}

func (c *Client) FindAttributeRoom(ctx context.Context, t model.RoomType, attr string) (*model.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.findAttributeRoom(t, attr)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return row.Room()
}

// InsertAttributeRoom проверяет и вставляет под одной блокировкой, поэтому дублей не бывает.
func (c *Client) InsertAttributeRoom(ctx context.Context, r *model.Room) (*model.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if row, ok := c.findAttributeRoom(r.Type(), r.Attribute()); ok {
		return row.Room()
	}
	c.putRoom(r.Row())
	return r, nil
}

func (c *Client) ListParticipantRooms(ctx context.Context, userID string) ([]model.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]model.Room, 0, 4)
	for _, id := range c.roomIDs {
		row := c.rooms[id]
		if !row.IsActive || row.RoomType != model.RoomTypeCustom {
			continue
		}
		for _, p := range row.Participants {
			if p == userID {
				room, err := row.Room()
				if err != nil {
					return nil, err
				}
				rooms = append(rooms, *room)
				break
			}
		}
	}
	return rooms, nil
}

func (c *Client) DeactivateRoom(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rooms[id]
	if !ok {
		return storage.ErrNotFound
	}
	row.IsActive = false
	c.rooms[id] = row
	return nil
}

func (c *Client) CreateMessage(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m.Seq = c.nextSeq()
	c.messages = append(c.messages, *m)
	return nil
}

func (c *Client) ListRoomMessages(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	matched := make([]model.Message, 0, limit)
	for _, m := range c.messages {
		if m.RoomID == roomID && !m.IsDeleted {
			matched = append(matched, m)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return model.Newer(matched[i].CreatedAt, matched[i].Seq, matched[j].CreatedAt, matched[j].Seq)
	})
	return page(matched, limit, offset), nil
}

// SetMessageDeleted выставляет флаг мягкого удаления (используется тестами и админкой).
func (c *Client) SetMessageDeleted(id string, deleted bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].IsDeleted = deleted
			return true
		}
	}
	return false
}

func (c *Client) CreateDirectMessage(ctx context.Context, m *model.DirectMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m.Seq = c.nextSeq()
	c.direct = append(c.direct, *m)
	return nil
}

func between(m *model.DirectMessage, a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

func (c *Client) ListThread(ctx context.Context, a, b string, limit, offset int) ([]model.DirectMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	matched := make([]model.DirectMessage, 0, limit)
	for i := range c.direct {
		if !c.direct[i].IsDeleted && between(&c.direct[i], a, b) {
			matched = append(matched, c.direct[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return model.Newer(matched[i].CreatedAt, matched[i].Seq, matched[j].CreatedAt, matched[j].Seq)
	})
	return page(matched, limit, offset), nil
}

func (c *Client) MarkThreadRead(ctx context.Context, to, from string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for i := range c.direct {
		m := &c.direct[i]
		if m.ReceiverID == to && m.SenderID == from && !m.IsRead && !m.IsDeleted {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (c *Client) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byPeer := make(map[string]*model.Conversation)
	for i := range c.direct {
		m := c.direct[i]
		if m.IsDeleted || (m.SenderID != userID && m.ReceiverID != userID) {
			continue
		}
		peerID, peerName := m.Peer(userID)
		conv, ok := byPeer[peerID]
		if !ok {
			conv = &model.Conversation{OtherUserID: peerID, OtherUserName: peerName, LastMessage: m}
			byPeer[peerID] = conv
		} else if model.Newer(m.CreatedAt, m.Seq, conv.LastMessage.CreatedAt, conv.LastMessage.Seq) {
			conv.LastMessage = m
			conv.OtherUserName = peerName
		}
		if m.ReceiverID == userID && !m.IsRead {
			conv.UnreadCount++
		}
	}
	out := make([]model.Conversation, 0, len(byPeer))
	for _, conv := range byPeer {
		out = append(out, *conv)
	}
	return out, nil
}

func (c *Client) UpsertPresence(ctx context.Context, rec model.PresenceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence[rec.UserID] = rec
	return nil
}

func (c *Client) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.presence[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
