package model

import (
	"fmt"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// ParseMessageType returns text for an empty value and rejects unknown types.
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(s) {
	case "":
		return MessageTypeText, nil
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return MessageType(s), nil
	default:
		return "", fmt.Errorf("unknown message_type %q", s)
	}
}

// Message: сообщение в комнате. После сохранения меняются только флаги is_edited/is_deleted.
// Seq назначается хранилищем и разрешает порядок при равных created_at.
type Message struct {
	ID          string      `json:"id"`
	Seq         int64       `json:"-"`
	RoomID      string      `json:"room_id"`
	SenderID    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	MessageType MessageType `json:"message_type"`
	Content     string      `json:"content"`
	ImageURL    string      `json:"image_url,omitempty"`
	FileURL     string      `json:"file_url,omitempty"`
	ReplyTo     *string     `json:"reply_to,omitempty"`
	IsDeleted   bool        `json:"is_deleted"`
	IsEdited    bool        `json:"is_edited"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// DirectMessage: личное сообщение. IsRead меняет только получатель, просматривая переписку.
type DirectMessage struct {
	ID           string      `json:"id"`
	Seq          int64       `json:"-"`
	SenderID     string      `json:"sender_id"`
	SenderName   string      `json:"sender_name"`
	ReceiverID   string      `json:"receiver_id"`
	ReceiverName string      `json:"receiver_name"`
	MessageType  MessageType `json:"message_type"`
	Content      string      `json:"content"`
	ImageURL     string      `json:"image_url,omitempty"`
	FileURL      string      `json:"file_url,omitempty"`
	IsRead       bool        `json:"is_read"`
	IsDeleted    bool        `json:"is_deleted"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Peer returns the other party of the message relative to userID.
func (m *DirectMessage) Peer(userID string) (id, name string) {
	if m.SenderID == userID {
		return m.ReceiverID, m.ReceiverName
	}
	return m.SenderID, m.SenderName
}

// Conversation is derived from direct messages on demand and never stored.
type Conversation struct {
	OtherUserID   string        `json:"other_user_id"`
	OtherUserName string        `json:"other_user_name"`
	LastMessage   DirectMessage `json:"last_message"`
	UnreadCount   int           `json:"unread_count"`
}

// Newer reports whether a sorts after b in (created_at, seq) order.
func Newer(aCreated time.Time, aSeq int64, bCreated time.Time, bSeq int64) bool {
	if !aCreated.Equal(bCreated) {
		return aCreated.After(bCreated)
	}
	return aSeq > bSeq
}
