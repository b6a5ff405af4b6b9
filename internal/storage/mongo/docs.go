package mongo

import (
	"time"

	"github.com/alumnichat/internal/model"
)

type userDoc struct {
	ID               string    `bson:"_id"`
	Name             string    `bson:"name"`
	Email            string    `bson:"email"`
	Cohort           string    `bson:"cohort"`
	ProgramTrack     string    `bson:"program_track"`
	IsVerifiedAlumni bool      `bson:"is_verified_alumni"`
	ProfilePhotoURL  string    `bson:"profile_photo_url"`
	CreatedAt        time.Time `bson:"created_at"`
}

func toUserDoc(u *model.User) userDoc {
	return userDoc{
		ID: u.ID, Name: u.Name, Email: u.Email, Cohort: u.Cohort, ProgramTrack: u.ProgramTrack,
		IsVerifiedAlumni: u.IsVerifiedAlumni, ProfilePhotoURL: u.ProfilePhotoURL, CreatedAt: u.CreatedAt,
	}
}

func (d userDoc) user() *model.User {
	return &model.User{
		ID: d.ID, Name: d.Name, Email: d.Email, Cohort: d.Cohort, ProgramTrack: d.ProgramTrack,
		IsVerifiedAlumni: d.IsVerifiedAlumni, ProfilePhotoURL: d.ProfilePhotoURL, CreatedAt: d.CreatedAt,
	}
}

// roomDoc: attribute заполняется только у cohort/program_track, на нём частичный уникальный индекс.
type roomDoc struct {
	model.RoomRow `bson:",inline"`
	Attribute     string `bson:"attribute,omitempty"`
}

func toRoomDoc(r *model.Room) roomDoc {
	return roomDoc{RoomRow: r.Row(), Attribute: r.Attribute()}
}

type messageDoc struct {
	ID          string            `bson:"_id"`
	Seq         int64             `bson:"seq"`
	RoomID      string            `bson:"room_id"`
	SenderID    string            `bson:"sender_id"`
	SenderName  string            `bson:"sender_name"`
	MessageType model.MessageType `bson:"message_type"`
	Content     string            `bson:"content"`
	ImageURL    string            `bson:"image_url,omitempty"`
	FileURL     string            `bson:"file_url,omitempty"`
	ReplyTo     *string           `bson:"reply_to,omitempty"`
	IsDeleted   bool              `bson:"is_deleted"`
	IsEdited    bool              `bson:"is_edited"`
	CreatedAt   time.Time         `bson:"created_at"`
	UpdatedAt   time.Time         `bson:"updated_at"`
}

func toMessageDoc(m *model.Message) messageDoc {
	return messageDoc{
		ID: m.ID, Seq: m.Seq, RoomID: m.RoomID, SenderID: m.SenderID, SenderName: m.SenderName,
		MessageType: m.MessageType, Content: m.Content, ImageURL: m.ImageURL, FileURL: m.FileURL,
		ReplyTo: m.ReplyTo, IsDeleted: m.IsDeleted, IsEdited: m.IsEdited, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func (d messageDoc) message() model.Message {
	return model.Message{
		ID: d.ID, Seq: d.Seq, RoomID: d.RoomID, SenderID: d.SenderID, SenderName: d.SenderName,
		MessageType: d.MessageType, Content: d.Content, ImageURL: d.ImageURL, FileURL: d.FileURL,
		ReplyTo: d.ReplyTo, IsDeleted: d.IsDeleted, IsEdited: d.IsEdited, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type directDoc struct {
	ID           string            `bson:"_id"`
	Seq          int64             `bson:"seq"`
	SenderID     string            `bson:"sender_id"`
	SenderName   string            `bson:"sender_name"`
	ReceiverID   string            `bson:"receiver_id"`
	ReceiverName string            `bson:"receiver_name"`
	MessageType  model.MessageType `bson:"message_type"`
	Content      string            `bson:"content"`
	ImageURL     string            `bson:"image_url,omitempty"`
	FileURL      string            `bson:"file_url,omitempty"`
	IsRead       bool              `bson:"is_read"`
	IsDeleted    bool              `bson:"is_deleted"`
	CreatedAt    time.Time         `bson:"created_at"`
}

func toDirectDoc(m *model.DirectMessage) directDoc {
	return directDoc{
		ID: m.ID, Seq: m.Seq, SenderID: m.SenderID, SenderName: m.SenderName, ReceiverID: m.ReceiverID,
		ReceiverName: m.ReceiverName, MessageType: m.MessageType, Content: m.Content, ImageURL: m.ImageURL,
		FileURL: m.FileURL, IsRead: m.IsRead, IsDeleted: m.IsDeleted, CreatedAt: m.CreatedAt,
	}
}

func (d directDoc) direct() model.DirectMessage {
	return model.DirectMessage{
		ID: d.ID, Seq: d.Seq, SenderID: d.SenderID, SenderName: d.SenderName, ReceiverID: d.ReceiverID,
		ReceiverName: d.ReceiverName, MessageType: d.MessageType, Content: d.Content, ImageURL: d.ImageURL,
		FileURL: d.FileURL, IsRead: d.IsRead, IsDeleted: d.IsDeleted, CreatedAt: d.CreatedAt,
	}
}

// conversationDoc: результат $group в Conversations.
type conversationDoc struct {
	PeerID   string    `bson:"_id"`
	PeerName string    `bson:"peer_name"`
	Last     directDoc `bson:"last"`
	Unread   int       `bson:"unread"`
}
