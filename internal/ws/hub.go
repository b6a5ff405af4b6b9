package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alumnichat/internal/apperr"
	"github.com/alumnichat/internal/chat"
	"github.com/alumnichat/internal/event"
	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/metrics"
)

// TokenVerifier returns the user id a token was issued for.
type TokenVerifier interface {
	Subject(token string) (string, error)
}

type Limits struct {
	MaxConns        int
	SendBuffer      int
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	EventsPerSecond float64
	EventBurst      int
}

func (l Limits) pingPeriod() time.Duration { return (l.PongWait * 9) / 10 }

func (l Limits) withDefaults() Limits {
	if l.MaxConns <= 0 {
		l.MaxConns = 10000
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = 256
	}
	if l.PongWait <= 0 {
		l.PongWait = 60 * time.Second
	}
	if l.WriteWait <= 0 {
		l.WriteWait = 10 * time.Second
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = 8192
	}
	if l.EventBurst <= 0 {
		l.EventBurst = 20
	}
	return l
}

// Hub owns the set of live websocket clients and routes their events to chat.Service.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	svc        *chat.Service
	verifier   TokenVerifier
	limits     Limits
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub создаёт хаб. verifier может быть nil: тогда join_user доверяет user_id.
func NewHub(svc *chat.Service, verifier TokenVerifier, limits Limits) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		svc:        svc,
		verifier:   verifier,
		limits:     limits.withDefaults(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Count returns the number of live websocket clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Full reports whether the connection cap is reached.
func (h *Hub) Full() bool {
	return h.Count() >= h.limits.MaxConns
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		allClients = append(allClients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()
	metrics.Connections.Set(0)

	for _, c := range allClients {
		c.Close()
		h.detach(c)
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	select {
	case <-c.done:
		// закрылся раньше, чем дошла регистрация
		return
	default:
	}
	h.mu.Lock()
	if len(h.clients) >= h.limits.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting conn=%s", h.limits.MaxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.Connections.Set(float64(n))
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.Connections.Set(float64(n))

	// Network I/O outside the lock.
	c.Close()
	h.detach(c)
}

// detach removes the connection from the presence registry exactly once,
// whichever path (read error, slow consumer, shutdown) got here first.
func (h *Hub) detach(c *Client) {
	c.detachOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.svc.Disconnect(ctx, c)
	})
}

// HandleMessage dispatches one incoming event. A rejected event produces exactly
// one error event to the originating client.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg event.Incoming) {
	if err := h.dispatch(ctx, c, msg); err != nil {
		h.reject(c, msg.Type, err)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, msg event.Incoming) error {
	switch msg.Type {
	case event.JoinUser:
		var p event.JoinUserPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if p.UserID == "" {
			return apperr.Validation("user_id required")
		}
		if h.verifier != nil {
			sub, err := h.verifier.Subject(p.Token)
			if err != nil || sub != p.UserID {
				return apperr.ErrUnauthenticated
			}
		}
		err := h.svc.JoinUser(ctx, c, p.UserID, p.UserName)
		c.unverified.Store(errors.Is(err, apperr.ErrNotVerified))
		return err

	case event.JoinRoom:
		var p event.JoinRoomPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		_, err := h.svc.JoinRoom(ctx, c, p.RoomID)
		return h.identityErr(c, err)

	case event.SendMessage:
		var p event.SendMessagePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		_, err := h.svc.PostMessage(ctx, c, p)
		return h.identityErr(c, err)

	case event.SendDirectMessage:
		var p event.SendDirectMessagePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		_, err := h.svc.SendDirect(ctx, c, p)
		return h.identityErr(c, err)

	default:
		return apperr.Validation("unknown event type")
	}
}

// identityErr reports a connection refused at join_user as not verified rather than unauthenticated.
func (h *Hub) identityErr(c *Client, err error) error {
	if errors.Is(err, apperr.ErrUnauthenticated) && c.unverified.Load() {
		return apperr.ErrNotVerified
	}
	return err
}

func (h *Hub) reject(c *Client, t event.Type, err error) {
	kind := apperr.Kind(err)
	metrics.OpErrors.WithLabelValues(string(t), kind).Inc()
	switch kind {
	case "persistence", "internal":
		logger.Errorf("ws %s conn=%s: %v", t, c.id, err)
	default:
		logger.Debugf("ws %s rejected conn=%s: %v", t, c.id, err)
	}
	c.Send(event.ErrorOf(apperr.Message(err)))
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return apperr.Validation("payload required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Validation("invalid payload")
	}
	return nil
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		h.detach(c)
	}
}

// Accept takes ownership of an upgraded connection: queues the connected
// event, starts the pumps and registers the client.
func (h *Hub) Accept(conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(h, conn)
	client.Send(event.Outgoing{Type: event.Connected, Payload: event.ConnectedPayload{Status: "connected"}})
	client.Start(ctx, cancel)
	h.Register(client)
	return client
}
