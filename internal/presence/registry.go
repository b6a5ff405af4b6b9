// Package presence holds the per-process table of live connections: who is
// connected, as which user, and in which room. It is the only shared mutable
// state of the messaging core; everything else lives in the store.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/alumnichat/internal/apperr"
	"github.com/alumnichat/internal/event"
	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/metrics"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/storage"
)

// Conn is a live transport session. Send must not block; it reports false
// when the event could not be queued.
type Conn interface {
	ID() string
	Send(ev event.Outgoing) bool
}

// Identity is what the registry remembers about the user behind a connection.
type Identity struct {
	UserID         string
	Name           string
	Cohort         string
	ProgramTrack   string
	VerifiedAlumni bool
}

func IdentityOf(u *model.User) Identity {
	return Identity{
		UserID:         u.ID,
		Name:           u.Name,
		Cohort:         u.Cohort,
		ProgramTrack:   u.ProgramTrack,
		VerifiedAlumni: u.IsVerifiedAlumni,
	}
}

func (i Identity) Attributes() model.UserAttributes {
	return model.UserAttributes{ID: i.UserID, Cohort: i.Cohort, ProgramTrack: i.ProgramTrack}
}

// Session is a copy of a registry entry; changing it does not touch the registry.
type Session struct {
	Identity
	RoomID string
	Conn   Conn
}

type entry struct {
	identity Identity
	roomID   string
	conn     Conn
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry // conn id -> entry
	users map[string]string // user id -> conn id

	store   storage.PresenceStore
	timeout time.Duration
	now     func() time.Time
}

// New создаёт реестр. store может быть nil: тогда состояние только в памяти.
func New(store storage.PresenceStore, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{
		conns:   make(map[string]*entry),
		users:   make(map[string]string),
		store:   store,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register binds conn to the user. A second Register for the same user moves the
// user pointer to the new connection; the old connection stays registered until it closes.
func (r *Registry) Register(ctx context.Context, conn Conn, id Identity) error {
	if !id.VerifiedAlumni {
		return apperr.ErrNotVerified
	}
	r.mu.Lock()
	if prev, ok := r.conns[conn.ID()]; ok && prev.identity.UserID != id.UserID {
		if r.users[prev.identity.UserID] == conn.ID() {
			delete(r.users, prev.identity.UserID)
		}
	}
	r.conns[conn.ID()] = &entry{identity: id, conn: conn}
	r.users[id.UserID] = conn.ID()
	online := len(r.users)
	r.mu.Unlock()

	metrics.OnlineUsers.Set(float64(online))
	r.persist(ctx, model.PresenceRecord{UserID: id.UserID, Status: model.StatusOnline, LastSeen: r.now()})
	return nil
}

// Unregister is a no-op for an unknown connection. It never fails: the durable
// write is logged on error and the in-memory cleanup stands.
func (r *Registry) Unregister(ctx context.Context, conn Conn) {
	r.mu.Lock()
	e, ok := r.conns[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, conn.ID())
	owner := r.users[e.identity.UserID] == conn.ID()
	if owner {
		delete(r.users, e.identity.UserID)
	}
	online := len(r.users)
	r.mu.Unlock()

	metrics.OnlineUsers.Set(float64(online))
	if !owner {
		// пользователь уже переподключился другим соединением
		return
	}
	r.persist(ctx, model.PresenceRecord{UserID: e.identity.UserID, Status: model.StatusOffline, LastSeen: r.now()})
}

// SetCurrentRoom only records the room; access must be checked by the caller.
func (r *Registry) SetCurrentRoom(ctx context.Context, conn Conn, roomID string) error {
	r.mu.Lock()
	e, ok := r.conns[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return apperr.ErrUnauthenticated
	}
	e.roomID = roomID
	userID := e.identity.UserID
	owner := r.users[userID] == conn.ID()
	r.mu.Unlock()

	if owner {
		room := roomID
		r.persist(ctx, model.PresenceRecord{UserID: userID, Status: model.StatusOnline, LastSeen: r.now(), CurrentRoom: &room})
	}
	return nil
}

func (r *Registry) Lookup(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return Session{}, false
	}
	return Session{Identity: e.identity, RoomID: e.roomID, Conn: e.conn}, true
}

func (r *Registry) ConnForUser(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// SessionForUser returns the session the user pointer currently refers to.
func (r *Registry) SessionForUser(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[r.users[userID]]
	if !ok {
		return Session{}, false
	}
	return Session{Identity: e.identity, RoomID: e.roomID, Conn: e.conn}, true
}

// ConnsInRoom returns a snapshot; connections that join later are not included.
func (r *Registry) ConnsInRoom(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, 16)
	for _, e := range r.conns {
		if e.roomID == roomID {
			out = append(out, e.conn)
		}
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// persist runs outside the lock. The caller's cancellation is dropped so a
// closing connection still gets its offline record written.
func (r *Registry) persist(ctx context.Context, rec model.PresenceRecord) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.UpsertPresence(ctx, rec); err != nil {
		logger.Errorf("presence upsert user=%s status=%s: %v", rec.UserID, rec.Status, err)
	}
}
