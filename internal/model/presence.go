package model

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
	StatusAway    PresenceStatus = "away"
)

// PresenceRecord: durable-копия живого состояния реестра присутствия.
type PresenceRecord struct {
	UserID      string         `json:"user_id" bson:"_id"`
	Status      PresenceStatus `json:"status" bson:"status"`
	LastSeen    time.Time      `json:"last_seen" bson:"last_seen"`
	CurrentRoom *string        `json:"current_room" bson:"current_room"`
}
