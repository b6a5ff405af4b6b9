// Package rooms resolves the rooms a user can see, provisions cohort and
// program-track rooms on first access and creates custom group rooms.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alumnichat/internal/apperr"
	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/storage"
)

// CustomRoomSpec: параметры создаваемой пользователем комнаты.
type CustomRoomSpec struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Participants []string `json:"participants"`
}

type Directory struct {
	store   storage.RoomStore
	timeout time.Duration
	now     func() time.Time
}

func New(store storage.RoomStore, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Directory{
		store:   store,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListAccessible returns the user's cohort room, program-track room and the
// active custom rooms listing the user as participant, in that order.
// Missing attribute rooms are created.
func (d *Directory) ListAccessible(ctx context.Context, u *model.User) ([]model.Room, error) {
	defer logger.DeferLogDuration("rooms.ListAccessible", time.Now())()
	if !u.IsVerifiedAlumni {
		return nil, apperr.ErrNotVerified
	}

	var cohortRoom, trackRoom *model.Room
	g, gctx := errgroup.WithContext(ctx)
	if u.Cohort != "" {
		g.Go(func() error {
			r, err := d.GetOrCreateAttributeRoom(gctx, model.CohortScope{Cohort: u.Cohort})
			cohortRoom = r
			return err
		})
	}
	if u.ProgramTrack != "" {
		g.Go(func() error {
			r, err := d.GetOrCreateAttributeRoom(gctx, model.TrackScope{Track: u.ProgramTrack})
			trackRoom = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	custom, err := d.store.ListParticipantRooms(ctx, u.ID)
	if err != nil {
		return nil, apperr.Persistence("rooms.ListAccessible", err)
	}

	out := make([]model.Room, 0, len(custom)+2)
	if cohortRoom != nil {
		out = append(out, *cohortRoom)
	}
	if trackRoom != nil {
		out = append(out, *trackRoom)
	}
	return append(out, custom...), nil
}

// GetOrCreateAttributeRoom finds the active room for a cohort or track scope,
// creating it with created_by=system if absent. Concurrent callers get the same
// room when the store enforces (type, attribute) uniqueness; otherwise a
// duplicate may appear, which access checks tolerate.
func (d *Directory) GetOrCreateAttributeRoom(ctx context.Context, scope model.Scope) (*model.Room, error) {
	var attr, name, desc string
	switch s := scope.(type) {
	case model.CohortScope:
		attr = s.Cohort
		name = "Cohort " + attr
		desc = fmt.Sprintf("Chat room for Cohort %s alumni", attr)
	case model.TrackScope:
		attr = s.Track
		name = attr + " Track"
		desc = fmt.Sprintf("Chat room for %s program alumni", attr)
	default:
		return nil, apperr.Validation("attribute room must be cohort or program_track")
	}
	if strings.TrimSpace(attr) == "" {
		return nil, apperr.Validation("room attribute required")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	room, err := d.store.FindAttributeRoom(ctx, scope.Type(), attr)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Persistence("rooms.FindAttributeRoom", err)
	}

	room, err = d.store.InsertAttributeRoom(ctx, &model.Room{
		ID:          uuid.New().String(),
		Name:        name,
		Description: desc,
		Scope:       scope,
		CreatedBy:   model.CreatedBySystem,
		IsActive:    true,
		CreatedAt:   d.now(),
	})
	if err != nil {
		return nil, apperr.Persistence("rooms.InsertAttributeRoom", err)
	}
	logger.Infof("room provisioned id=%s type=%s attr=%s", room.ID, room.Type(), attr)
	return room, nil
}

// CreateCustomRoom seeds the creator as first participant and only admin.
func (d *Directory) CreateCustomRoom(ctx context.Context, creator *model.User, spec CustomRoomSpec) (*model.Room, error) {
	defer logger.DeferLogDuration("rooms.CreateCustomRoom", time.Now())()
	if !creator.IsVerifiedAlumni {
		return nil, apperr.ErrNotVerified
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, apperr.Validation("room name required")
	}

	participants := []string{creator.ID}
	seen := map[string]struct{}{creator.ID: {}}
	for _, p := range spec.Participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		participants = append(participants, p)
	}

	room := &model.Room{
		ID:          uuid.New().String(),
		Name:        name,
		Description: strings.TrimSpace(spec.Description),
		Scope:       model.CustomScope{Participants: participants, Admins: []string{creator.ID}},
		CreatedBy:   creator.ID,
		IsActive:    true,
		CreatedAt:   d.now(),
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.store.CreateRoom(ctx, room); err != nil {
		return nil, apperr.Persistence("rooms.CreateCustomRoom", err)
	}
	return room, nil
}

// Get returns an active room; inactive rooms are reported as not found.
func (d *Directory) Get(ctx context.Context, id string) (*model.Room, error) {
	if id == "" {
		return nil, apperr.Validation("room_id required")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	room, err := d.store.GetRoom(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("room")
	}
	if err != nil {
		return nil, apperr.Persistence("rooms.Get", err)
	}
	if !room.IsActive {
		return nil, apperr.NotFound("room")
	}
	return room, nil
}

// Deactivate hides a custom room from lookups; rooms are never deleted.
// Only admins of the room may do it; system rooms cannot be deactivated.
func (d *Directory) Deactivate(ctx context.Context, actor *model.User, id string) error {
	if !actor.IsVerifiedAlumni {
		return apperr.ErrNotVerified
	}
	room, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	custom, ok := room.Scope.(model.CustomScope)
	if !ok || !slices.Contains(custom.Admins, actor.ID) {
		return fmt.Errorf("%w: room admins only", apperr.ErrAccessDenied)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err = d.store.DeactivateRoom(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("room")
	}
	if err != nil {
		return apperr.Persistence("rooms.Deactivate", err)
	}
	return nil
}
