package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alumnichat/internal/model"
)

func TestCanAccess(t *testing.T) {
	alice := model.UserAttributes{ID: "alice", Cohort: "2023", ProgramTrack: "Data Science"}
	noAttrs := model.UserAttributes{ID: "bob"}

	tests := []struct {
		name string
		user model.UserAttributes
		room *model.Room
		want bool
	}{
		{"cohort match", alice, &model.Room{Scope: model.CohortScope{Cohort: "2023"}}, true},
		{"cohort mismatch", alice, &model.Room{Scope: model.CohortScope{Cohort: "2022"}}, false},
		{"empty cohort never matches", noAttrs, &model.Room{Scope: model.CohortScope{}}, false},
		{"track match", alice, &model.Room{Scope: model.TrackScope{Track: "Data Science"}}, true},
		{"track mismatch", alice, &model.Room{Scope: model.TrackScope{Track: "Design"}}, false},
		{"custom participant", alice, &model.Room{Scope: model.CustomScope{Participants: []string{"x", "alice"}}}, true},
		{"custom outsider", noAttrs, &model.Room{Scope: model.CustomScope{Participants: []string{"alice"}}}, false},
		{"direct participant", noAttrs, &model.Room{Scope: model.DirectScope{Participants: []string{"alice", "bob"}}}, true},
		{"direct outsider", alice, &model.Room{Scope: model.DirectScope{Participants: []string{"bob", "carol"}}}, false},
		{"missing scope", alice, &model.Room{}, false},
		{"nil room", alice, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccess(tt.user, tt.room))
		})
	}
}

func TestCanAccess_CohortsAreDisjoint(t *testing.T) {
	a := model.UserAttributes{ID: "a", Cohort: "2021", ProgramTrack: "Finance"}
	b := model.UserAttributes{ID: "b", Cohort: "2024", ProgramTrack: "Marketing"}
	roomsOf := func(u model.UserAttributes) []*model.Room {
		return []*model.Room{
			{Scope: model.CohortScope{Cohort: u.Cohort}},
			{Scope: model.TrackScope{Track: u.ProgramTrack}},
		}
	}
	for _, r := range roomsOf(a) {
		assert.True(t, CanAccess(a, r))
		assert.False(t, CanAccess(b, r))
	}
	for _, r := range roomsOf(b) {
		assert.True(t, CanAccess(b, r))
		assert.False(t, CanAccess(a, r))
	}
}
