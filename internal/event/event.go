// Package event describes the websocket wire protocol. Both directions use
// the envelope {"type": "...", "payload": {...}}.
package event

import (
	"encoding/json"
	"time"

	"github.com/alumnichat/internal/model"
)

type Type string

// Client → server.
const (
	JoinUser          Type = "join_user"
	JoinRoom          Type = "join_room"
	SendMessage       Type = "send_message"
	SendDirectMessage Type = "send_direct_message"
)

// Server → client.
const (
	Connected        Type = "connected"
	UserJoined       Type = "user_joined"
	JoinedRoom       Type = "joined_room"
	NewMessage       Type = "new_message"
	NewDirectMessage Type = "new_direct_message"
	Error            Type = "error"
)

// Incoming is what the client sends to the server. Payload is decoded per Type.
type Incoming struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Outgoing is what the server sends to the client.
type Outgoing struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

type JoinUserPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	// Token обязателен, только если на сервере задан JWT-секрет.
	Token string `json:"token,omitempty"`
}

type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

type SendMessagePayload struct {
	RoomID      string `json:"room_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	ImageURL    string `json:"image_url,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
}

type SendDirectMessagePayload struct {
	ReceiverID  string `json:"receiver_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	ImageURL    string `json:"image_url,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
}

// --- Typed payloads for the hot path ---

type ConnectedPayload struct {
	Status string `json:"status"`
}

type UserJoinedPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Status   string `json:"status"`
}

type JoinedRoomPayload struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

type NewMessagePayload struct {
	ID          string            `json:"id"`
	RoomID      string            `json:"room_id"`
	SenderID    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name"`
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"message_type"`
	ImageURL    string            `json:"image_url,omitempty"`
	FileURL     string            `json:"file_url,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ReplyTo     *string           `json:"reply_to,omitempty"`
}

type NewDirectMessagePayload struct {
	ID           string            `json:"id"`
	SenderID     string            `json:"sender_id"`
	SenderName   string            `json:"sender_name"`
	ReceiverID   string            `json:"receiver_id"`
	ReceiverName string            `json:"receiver_name"`
	Content      string            `json:"content"`
	MessageType  model.MessageType `json:"message_type"`
	ImageURL     string            `json:"image_url,omitempty"`
	FileURL      string            `json:"file_url,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func NewMessageOf(m *model.Message) Outgoing {
	return Outgoing{Type: NewMessage, Payload: NewMessagePayload{
		ID:          m.ID,
		RoomID:      m.RoomID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Content:     m.Content,
		MessageType: m.MessageType,
		ImageURL:    m.ImageURL,
		FileURL:     m.FileURL,
		CreatedAt:   m.CreatedAt,
		ReplyTo:     m.ReplyTo,
	}}
}

func NewDirectMessageOf(m *model.DirectMessage) Outgoing {
	return Outgoing{Type: NewDirectMessage, Payload: NewDirectMessagePayload{
		ID:           m.ID,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		ReceiverID:   m.ReceiverID,
		ReceiverName: m.ReceiverName,
		Content:      m.Content,
		MessageType:  m.MessageType,
		ImageURL:     m.ImageURL,
		FileURL:      m.FileURL,
		CreatedAt:    m.CreatedAt,
	}}
}

func ErrorOf(msg string) Outgoing {
	return Outgoing{Type: Error, Payload: ErrorPayload{Message: msg}}
}
