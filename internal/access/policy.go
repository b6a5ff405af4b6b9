// Package access decides whether a user may join or read a room.
package access

import (
	"slices"

	"github.com/alumnichat/internal/model"
)

// CanAccess is pure: the same decision serves join_room, send_message and history reads.
// Attribute rooms match on a non-empty equal attribute; list rooms on participant id.
func CanAccess(user model.UserAttributes, room *model.Room) bool {
	if room == nil {
		return false
	}
	switch s := room.Scope.(type) {
	case model.CohortScope:
		return s.Cohort != "" && user.Cohort == s.Cohort
	case model.TrackScope:
		return s.Track != "" && user.ProgramTrack == s.Track
	case model.CustomScope:
		return user.ID != "" && slices.Contains(s.Participants, user.ID)
	case model.DirectScope:
		return user.ID != "" && slices.Contains(s.Participants, user.ID)
	default:
		return false
	}
}
