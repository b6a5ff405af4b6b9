// Package storagetest: общий набор проверок для реализаций storage.Store.
// Каждый бэкенд вызывает Run из своего _test.go.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/storage"
)

// Factory возвращает пустое хранилище; закрытие: забота фабрики (t.Cleanup).
type Factory func(t *testing.T) storage.Store

var base = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Rooms", func(t *testing.T) { testRooms(t, newStore(t)) })
	t.Run("AttributeRoomsConverge", func(t *testing.T) { testAttributeRooms(t, newStore(t)) })
	t.Run("RoomMessages", func(t *testing.T) { testRoomMessages(t, newStore(t)) })
	t.Run("DirectMessages", func(t *testing.T) { testDirect(t, newStore(t)) })
	t.Run("Presence", func(t *testing.T) { testPresence(t, newStore(t)) })
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetUser(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	u := &model.User{ID: "u-" + uuid.NewString(), Name: "Ada", Email: "ada@example.org", Cohort: "2019",
		ProgramTrack: "Data", IsVerifiedAlumni: true, CreatedAt: base}
	require.NoError(t, s.CreateUser(ctx, u))
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, "2019", got.Cohort)
	assert.Equal(t, "Data", got.ProgramTrack)
	assert.True(t, got.IsVerifiedAlumni)
}

func customRoom(creator string, participants ...string) *model.Room {
	return &model.Room{
		ID:        uuid.NewString(),
		Name:      "Founders",
		Scope:     model.CustomScope{Participants: append([]string{creator}, participants...), Admins: []string{creator}},
		CreatedBy: creator,
		IsActive:  true,
		CreatedAt: base,
	}
}

func testRooms(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetRoom(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	r := customRoom("a", "b")
	require.NoError(t, s.CreateRoom(ctx, r))
	got, err := s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	require.IsType(t, model.CustomScope{}, got.Scope)
	assert.Equal(t, []string{"a", "b"}, got.Scope.(model.CustomScope).Participants)
	assert.Equal(t, []string{"a"}, got.Scope.(model.CustomScope).Admins)

	list, err := s.ListParticipantRooms(ctx, "b")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r.ID, list[0].ID)
	list, err = s.ListParticipantRooms(ctx, "z")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.DeactivateRoom(ctx, r.ID))
	list, err = s.ListParticipantRooms(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, list)
	got, err = s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, s.DeactivateRoom(ctx, "missing"), storage.ErrNotFound)
}

func testAttributeRooms(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.FindAttributeRoom(ctx, model.RoomTypeCohort, "2020")
	require.ErrorIs(t, err, storage.ErrNotFound)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := s.InsertAttributeRoom(ctx, &model.Room{
				ID: uuid.NewString(), Name: "Cohort 2020", Scope: model.CohortScope{Cohort: "2020"},
				CreatedBy: model.CreatedBySystem, IsActive: true, CreatedAt: base,
			})
			if assert.NoError(t, err) {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i], "all inserts must converge to one room")
	}
	found, err := s.FindAttributeRoom(ctx, model.RoomTypeCohort, "2020")
	require.NoError(t, err)
	assert.Equal(t, ids[0], found.ID)
	assert.Equal(t, model.CohortScope{Cohort: "2020"}, found.Scope)

	// тот же атрибут в другом типе: другая комната
	track, err := s.InsertAttributeRoom(ctx, &model.Room{
		ID: uuid.NewString(), Name: "2020 Track", Scope: model.TrackScope{Track: "2020"},
		CreatedBy: model.CreatedBySystem, IsActive: true, CreatedAt: base,
	})
	require.NoError(t, err)
	assert.NotEqual(t, ids[0], track.ID)
}

func roomMessage(roomID, content string, at time.Time) *model.Message {
	return &model.Message{
		ID: uuid.NewString(), RoomID: roomID, SenderID: "a", SenderName: "Ada",
		MessageType: model.MessageTypeText, Content: content, CreatedAt: at, UpdatedAt: at,
	}
}

func testRoomMessages(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := customRoom("a")
	require.NoError(t, s.CreateRoom(ctx, r))

	var last int64
	for i := 0; i < 5; i++ {
		m := roomMessage(r.ID, fmt.Sprintf("m%d", i), base)
		if i == 4 {
			reply := "m-parent"
			m.ReplyTo = &reply
		}
		require.NoError(t, s.CreateMessage(ctx, m))
		assert.Greater(t, m.Seq, last)
		last = m.Seq
	}
	deleted := roomMessage(r.ID, "gone", base.Add(time.Hour))
	deleted.IsDeleted = true
	require.NoError(t, s.CreateMessage(ctx, deleted))

	all, err := s.ListRoomMessages(ctx, r.ID, 50, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "m4", all[0].Content)
	assert.Equal(t, "m0", all[4].Content)
	require.NotNil(t, all[0].ReplyTo)
	assert.Equal(t, "m-parent", *all[0].ReplyTo)
	assert.Nil(t, all[1].ReplyTo)

	pageTwo, err := s.ListRoomMessages(ctx, r.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, pageTwo, 2)
	assert.Equal(t, "m2", pageTwo[0].Content)
	assert.Equal(t, "m1", pageTwo[1].Content)

	empty, err := s.ListRoomMessages(ctx, r.ID, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func dm(from, to, content string, at time.Time) *model.DirectMessage {
	return &model.DirectMessage{
		ID: uuid.NewString(), SenderID: from, SenderName: "name-" + from, ReceiverID: to, ReceiverName: "name-" + to,
		MessageType: model.MessageTypeText, Content: content, CreatedAt: at,
	}
}

func testDirect(t *testing.T, s storage.Store) {
	ctx := context.Background()
	msgs := []*model.DirectMessage{
		dm("a", "b", "hi b", base),
		dm("b", "a", "hi a", base.Add(time.Minute)),
		dm("a", "b", "how are you", base.Add(2*time.Minute)),
		dm("c", "a", "from c", base.Add(3*time.Minute)),
		dm("c", "a", "from c again", base.Add(4*time.Minute)),
	}
	for _, m := range msgs {
		require.NoError(t, s.CreateDirectMessage(ctx, m))
	}
	hidden := dm("b", "a", "deleted", base.Add(10*time.Minute))
	hidden.IsDeleted = true
	require.NoError(t, s.CreateDirectMessage(ctx, hidden))

	thread, err := s.ListThread(ctx, "a", "b", 50, 0)
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, "how are you", thread[0].Content)
	assert.Equal(t, "hi b", thread[2].Content)
	same, err := s.ListThread(ctx, "b", "a", 50, 0)
	require.NoError(t, err)
	assert.Len(t, same, 3)

	convs, err := s.Conversations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	byPeer := map[string]model.Conversation{}
	for _, c := range convs {
		byPeer[c.OtherUserID] = c
	}
	assert.Equal(t, "name-b", byPeer["b"].OtherUserName)
	assert.Equal(t, "how are you", byPeer["b"].LastMessage.Content)
	assert.Equal(t, 1, byPeer["b"].UnreadCount)
	assert.Equal(t, "from c again", byPeer["c"].LastMessage.Content)
	assert.Equal(t, 2, byPeer["c"].UnreadCount)

	n, err := s.MarkThreadRead(ctx, "a", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = s.MarkThreadRead(ctx, "a", "c")
	require.NoError(t, err)
	assert.Zero(t, n)

	convs, err = s.Conversations(ctx, "a")
	require.NoError(t, err)
	for _, c := range convs {
		if c.OtherUserID == "c" {
			assert.Zero(t, c.UnreadCount)
		}
	}

	// непрочитанные считаются только для получателя
	convs, err = s.Conversations(ctx, "c")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Zero(t, convs[0].UnreadCount)
}

func testPresence(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetPresence(ctx, "a")
	require.ErrorIs(t, err, storage.ErrNotFound)

	room := "room-1"
	require.NoError(t, s.UpsertPresence(ctx, model.PresenceRecord{UserID: "a", Status: model.StatusOnline, LastSeen: base, CurrentRoom: &room}))
	rec, err := s.GetPresence(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, rec.Status)
	require.NotNil(t, rec.CurrentRoom)
	assert.Equal(t, room, *rec.CurrentRoom)

	require.NoError(t, s.UpsertPresence(ctx, model.PresenceRecord{UserID: "a", Status: model.StatusOffline, LastSeen: base.Add(time.Minute)}))
	rec, err = s.GetPresence(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, rec.Status)
	assert.Nil(t, rec.CurrentRoom)
	assert.True(t, base.Add(time.Minute).Equal(rec.LastSeen))
}
