package model

import "time"

// User принадлежит CRUD-слою; ядро чата только читает его.
type User struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Cohort           string    `json:"cohort,omitempty"`
	ProgramTrack     string    `json:"program_track,omitempty"`
	IsVerifiedAlumni bool      `json:"is_verified_alumni"`
	ProfilePhotoURL  string    `json:"profile_photo_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// UserAttributes: атрибуты, по которым принимается решение о доступе к комнате.
type UserAttributes struct {
	ID           string
	Cohort       string
	ProgramTrack string
}

func (u *User) Attributes() UserAttributes {
	return UserAttributes{ID: u.ID, Cohort: u.Cohort, ProgramTrack: u.ProgramTrack}
}

type UserPublic struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Cohort           string `json:"cohort,omitempty"`
	ProgramTrack     string `json:"program_track,omitempty"`
	IsVerifiedAlumni bool   `json:"is_verified_alumni"`
	ProfilePhotoURL  string `json:"profile_photo_url,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:               u.ID,
		Name:             u.Name,
		Cohort:           u.Cohort,
		ProgramTrack:     u.ProgramTrack,
		IsVerifiedAlumni: u.IsVerifiedAlumni,
		ProfilePhotoURL:  u.ProfilePhotoURL,
	}
}
