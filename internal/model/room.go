package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

type RoomType string

const (
	RoomTypeCohort       RoomType = "cohort"
	RoomTypeProgramTrack RoomType = "program_track"
	RoomTypeCustom       RoomType = "custom"
	RoomTypeDirect       RoomType = "direct"
)

// CreatedBySystem marks rooms provisioned lazily by the directory.
const CreatedBySystem = "system"

// Scope is the room variant. Exactly one of CohortScope, TrackScope,
// CustomScope or DirectScope.
type Scope interface {
	Type() RoomType
	scope()
}

type CohortScope struct {
	Cohort string
}

type TrackScope struct {
	Track string
}

type CustomScope struct {
	Participants []string
	Admins       []string
}

type DirectScope struct {
	Participants []string
}

func (CohortScope) Type() RoomType { return RoomTypeCohort }
func (TrackScope) Type() RoomType  { return RoomTypeProgramTrack }
func (CustomScope) Type() RoomType { return RoomTypeCustom }
func (DirectScope) Type() RoomType { return RoomTypeDirect }

func (CohortScope) scope() {}
func (TrackScope) scope()  {}
func (CustomScope) scope() {}
func (DirectScope) scope() {}

type Room struct {
	ID          string
	Name        string
	Description string
	Scope       Scope
	CreatedBy   string
	IsActive    bool
	CreatedAt   time.Time
}

func (r *Room) Type() RoomType {
	if r.Scope == nil {
		return ""
	}
	return r.Scope.Type()
}

// Attribute returns the natural-key attribute of a cohort or program-track room.
func (r *Room) Attribute() string {
	switch s := r.Scope.(type) {
	case CohortScope:
		return s.Cohort
	case TrackScope:
		return s.Track
	}
	return ""
}

// RoomRow: плоское представление комнаты для хранилищ и JSON.
type RoomRow struct {
	ID           string    `json:"id" bson:"_id"`
	Name         string    `json:"name" bson:"name"`
	Description  string    `json:"description" bson:"description"`
	RoomType     RoomType  `json:"room_type" bson:"room_type"`
	Cohort       string    `json:"cohort,omitempty" bson:"cohort,omitempty"`
	ProgramTrack string    `json:"program_track,omitempty" bson:"program_track,omitempty"`
	Participants []string  `json:"participants" bson:"participants"`
	Admins       []string  `json:"admins" bson:"admins"`
	CreatedBy    string    `json:"created_by" bson:"created_by"`
	IsActive     bool      `json:"is_active" bson:"is_active"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

func (r *Room) Row() RoomRow {
	row := RoomRow{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		RoomType:     r.Type(),
		Participants: []string{},
		Admins:       []string{},
		CreatedBy:    r.CreatedBy,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
	}
	switch s := r.Scope.(type) {
	case CohortScope:
		row.Cohort = s.Cohort
	case TrackScope:
		row.ProgramTrack = s.Track
	case CustomScope:
		row.Participants = append(row.Participants, s.Participants...)
		row.Admins = append(row.Admins, s.Admins...)
	case DirectScope:
		row.Participants = append(row.Participants, s.Participants...)
	}
	return row
}

// Room converts a stored row back to the variant form; unknown types are an error.
// Слайсы копируются, комната не делит память со строкой хранилища.
func (row RoomRow) Room() (*Room, error) {
	var sc Scope
	switch row.RoomType {
	case RoomTypeCohort:
		sc = CohortScope{Cohort: row.Cohort}
	case RoomTypeProgramTrack:
		sc = TrackScope{Track: row.ProgramTrack}
	case RoomTypeCustom:
		sc = CustomScope{Participants: slices.Clone(row.Participants), Admins: slices.Clone(row.Admins)}
	case RoomTypeDirect:
		sc = DirectScope{Participants: slices.Clone(row.Participants)}
	default:
		return nil, fmt.Errorf("room %s: unknown room_type %q", row.ID, row.RoomType)
	}
	return &Room{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Scope:       sc,
		CreatedBy:   row.CreatedBy,
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt,
	}, nil
}

func (r Room) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Row())
}

func (r *Room) UnmarshalJSON(data []byte) error {
	var row RoomRow
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	room, err := row.Room()
	if err != nil {
		return err
	}
	*r = *room
	return nil
}
