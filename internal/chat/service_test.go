package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumnichat/internal/apperr"
	"github.com/alumnichat/internal/event"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/presence"
	"github.com/alumnichat/internal/rooms"
	"github.com/alumnichat/internal/storage/memory"
)

type recConn struct {
	id     string
	mu     sync.Mutex
	events []event.Outgoing
}

func (c *recConn) ID() string { return c.id }

func (c *recConn) Send(ev event.Outgoing) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

func (c *recConn) ofType(t event.Type) []event.Outgoing {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.Outgoing
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	store *memory.Client
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	svc := NewService(store, rooms.New(store, time.Second), presence.New(store, time.Second), time.Second)
	return &fixture{store: store, svc: svc}
}

func (f *fixture) user(t *testing.T, id, cohort, track string, verified bool) *model.User {
	t.Helper()
	u := &model.User{ID: id, Name: "Name " + id, Cohort: cohort, ProgramTrack: track, IsVerifiedAlumni: verified}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) join(t *testing.T, userID string) *recConn {
	t.Helper()
	c := &recConn{id: "conn-" + userID}
	require.NoError(t, f.svc.JoinUser(context.Background(), c, userID, ""))
	return c
}

func TestJoinUser_AutoJoinsCohortRoom(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "2023", "Data Science", true)
	c := f.join(t, "u1")

	joined := c.ofType(event.UserJoined)
	require.Len(t, joined, 1)
	p := joined[0].Payload.(event.UserJoinedPayload)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "Name u1", p.UserName)
	assert.Equal(t, "online", p.Status)

	rooms := c.ofType(event.JoinedRoom)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Cohort 2023", rooms[0].Payload.(event.JoinedRoomPayload).RoomName)

	sess, ok := f.svc.Registry().Lookup(c.ID())
	require.True(t, ok)
	assert.Equal(t, rooms[0].Payload.(event.JoinedRoomPayload).RoomID, sess.RoomID)
}

func TestJoinUser_TrackRoomWhenNoCohort(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "", "Design", true)
	c := f.join(t, "u1")
	rooms := c.ofType(event.JoinedRoom)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Design Track", rooms[0].Payload.(event.JoinedRoomPayload).RoomName)
}

func TestJoinUser_FallbackName(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateUser(context.Background(), &model.User{ID: "u1", IsVerifiedAlumni: true}))
	c := &recConn{id: "c"}
	require.NoError(t, f.svc.JoinUser(context.Background(), c, "u1", "Ann"))
	sess, _ := f.svc.Registry().Lookup("c")
	assert.Equal(t, "Ann", sess.Name)
}

func TestJoinUser_Errors(t *testing.T) {
	f := newFixture(t)
	f.user(t, "guest", "2023", "", false)

	err := f.svc.JoinUser(context.Background(), &recConn{id: "a"}, "nobody", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = f.svc.JoinUser(context.Background(), &recConn{id: "b"}, "guest", "")
	assert.ErrorIs(t, err, apperr.ErrNotVerified)
	assert.False(t, f.svc.Registry().IsOnline("guest"))
}

func TestUnverifiedUserIsRejectedEverywhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "guest", "2023", "", false)
	f.user(t, "peer", "2023", "", true)
	room, err := f.svc.Rooms().GetOrCreateAttributeRoom(ctx, model.CohortScope{Cohort: "2023"})
	require.NoError(t, err)

	guest, err := f.svc.User(ctx, "guest")
	require.NoError(t, err)
	_, err = f.svc.Rooms().ListAccessible(ctx, guest)
	assert.ErrorIs(t, err, apperr.ErrNotVerified)
	_, err = f.svc.Rooms().CreateCustomRoom(ctx, guest, rooms.CustomRoomSpec{Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotVerified)
	_, err = f.svc.ListMessages(ctx, "guest", room.ID, 50, 0)
	assert.ErrorIs(t, err, apperr.ErrNotVerified)
	_, err = f.svc.ListThread(ctx, "guest", "peer", 50, 0)
	assert.ErrorIs(t, err, apperr.ErrNotVerified)
	_, err = f.svc.ListConversations(ctx, "guest")
	assert.ErrorIs(t, err, apperr.ErrNotVerified)
	_, err = f.svc.VerifiedUser(ctx, "guest")
	assert.ErrorIs(t, err, apperr.ErrNotVerified)

	c := &recConn{id: "g"}
	assert.ErrorIs(t, f.svc.JoinUser(ctx, c, "guest", ""), apperr.ErrAccessDenied)
}

func TestOperationsRequireJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := &recConn{id: "anon"}
	_, err := f.svc.JoinRoom(ctx, c, "r")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = f.svc.PostMessage(ctx, c, event.SendMessagePayload{RoomID: "r", Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = f.svc.SendDirect(ctx, c, event.SendDirectMessagePayload{ReceiverID: "x", Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestJoinRoom_AccessPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "a", "2021", "", true)
	f.user(t, "b", "2024", "", true)
	ca := f.join(t, "a")
	f.join(t, "b")

	other, err := f.svc.Rooms().GetOrCreateAttributeRoom(ctx, model.CohortScope{Cohort: "2024"})
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(ctx, ca, other.ID)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)

	_, err = f.svc.JoinRoom(ctx, ca, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.JoinRoom(ctx, ca, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPostMessage_HelloRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "2023", "", true)
	c := f.join(t, "u1")
	sess, _ := f.svc.Registry().Lookup(c.ID())

	m, err := f.svc.PostMessage(ctx, c, event.SendMessagePayload{RoomID: sess.RoomID, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeText, m.MessageType)

	got := c.ofType(event.NewMessage)
	require.Len(t, got, 1, "sender receives its own message")
	assert.Equal(t, "hello", got[0].Payload.(event.NewMessagePayload).Content)

	msgs, err := f.svc.ListMessages(ctx, "u1", sess.RoomID, 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].IsDeleted)
	assert.Equal(t, "u1", msgs[0].SenderID)
	assert.Equal(t, "Name u1", msgs[0].SenderName)
	assert.Equal(t, m.ID, msgs[0].ID)
}

func TestListMessages_ChronologicalPages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "2023", "", true)
	c := f.join(t, "u1")
	sess, _ := f.svc.Registry().Lookup(c.ID())

	// одинаковое время: порядок задаёт seq
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }
	for i := 0; i < 5; i++ {
		_, err := f.svc.PostMessage(ctx, c, event.SendMessagePayload{RoomID: sess.RoomID, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	latest, err := f.svc.ListMessages(ctx, "u1", sess.RoomID, 2, 0)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "m3", latest[0].Content)
	assert.Equal(t, "m4", latest[1].Content)

	older, err := f.svc.ListMessages(ctx, "u1", sess.RoomID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "m1", older[0].Content)
	assert.Equal(t, "m2", older[1].Content)
}

func TestListMessages_SkipsDeletedAndChecksAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u2", "2020", "", true)
	c := f.join(t, "u1")
	sess, _ := f.svc.Registry().Lookup(c.ID())

	m, err := f.svc.PostMessage(ctx, c, event.SendMessagePayload{RoomID: sess.RoomID, Content: "oops"})
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, c, event.SendMessagePayload{RoomID: sess.RoomID, Content: "kept"})
	require.NoError(t, err)
	require.True(t, f.store.SetMessageDeleted(m.ID, true))

	msgs, err := f.svc.ListMessages(ctx, "u1", sess.RoomID, 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Content)

	_, err = f.svc.ListMessages(ctx, "u2", sess.RoomID, 50, 0)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
}

func TestPostMessage_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u2", "2020", "", true)
	c := f.join(t, "u1")
	sess, _ := f.svc.Registry().Lookup(c.ID())
	otherRoom, err := f.svc.Rooms().GetOrCreateAttributeRoom(ctx, model.CohortScope{Cohort: "2020"})
	require.NoError(t, err)

	cases := []struct {
		name string
		p    event.SendMessagePayload
		want error
	}{
		{"empty room", event.SendMessagePayload{Content: "x"}, apperr.ErrValidation},
		{"blank content", event.SendMessagePayload{RoomID: sess.RoomID, Content: "   "}, apperr.ErrValidation},
		{"bad type", event.SendMessagePayload{RoomID: sess.RoomID, Content: "x", MessageType: "video"}, apperr.ErrValidation},
		{"missing room", event.SendMessagePayload{RoomID: "nope", Content: "x"}, apperr.ErrNotFound},
		{"foreign room", event.SendMessagePayload{RoomID: otherRoom.ID, Content: "x"}, apperr.ErrAccessDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.PostMessage(ctx, c, tc.p)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, c.ofType(event.NewMessage))
}

func TestPostMessage_InactiveRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner", "", "", true)
	c := f.join(t, "owner")
	room, err := f.svc.Rooms().CreateCustomRoom(ctx, owner, rooms.CustomRoomSpec{Name: "r"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Rooms().Deactivate(ctx, owner, room.ID))

	_, err = f.svc.PostMessage(ctx, c, event.SendMessagePayload{RoomID: room.ID, Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type failingMessages struct{ *memory.Client }

func (failingMessages) CreateMessage(context.Context, *model.Message) error {
	return context.DeadlineExceeded
}

func (failingMessages) CreateDirectMessage(context.Context, *model.DirectMessage) error {
	return errors.New("write conflict")
}

func TestPersistenceFailureIsNotBroadcast(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	store := failingMessages{mem}
	svc := NewService(store, rooms.New(store, time.Second), presence.New(store, time.Second), time.Second)
	f := &fixture{store: mem, svc: svc}
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u2", "2023", "", true)
	c1 := f.join(t, "u1")
	c2 := f.join(t, "u2")
	sess, _ := svc.Registry().Lookup(c1.ID())

	_, err := svc.PostMessage(ctx, c1, event.SendMessagePayload{RoomID: sess.RoomID, Content: "lost"})
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, "failed to save, try again", apperr.Message(err))
	assert.Empty(t, c1.ofType(event.NewMessage))
	assert.Empty(t, c2.ofType(event.NewMessage))

	_, err = svc.SendDirect(ctx, c1, event.SendDirectMessagePayload{ReceiverID: "u2", Content: "lost"})
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Empty(t, c2.ofType(event.NewDirectMessage))
}

type failingRooms struct{ *memory.Client }

func (failingRooms) InsertAttributeRoom(context.Context, *model.Room) (*model.Room, error) {
	return nil, errors.New("db down")
}

func TestJoinUser_RoomFailureLeavesConnUnjoined(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	store := failingRooms{mem}
	svc := NewService(store, rooms.New(store, time.Second), presence.New(store, time.Second), time.Second)
	f := &fixture{store: mem, svc: svc}
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u2", "", "", true)

	// без когорты и трека комната не нужна, вход проходит
	other := f.join(t, "u2")
	assert.Len(t, other.ofType(event.UserJoined), 1)

	c := &recConn{id: "conn-u1"}
	err := svc.JoinUser(ctx, c, "u1", "")
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, "failed to save, try again", apperr.Message(err))
	assert.Empty(t, c.ofType(event.UserJoined))
	assert.Empty(t, c.ofType(event.JoinedRoom))
	_, ok := svc.Registry().Lookup(c.ID())
	assert.False(t, ok)
	assert.False(t, svc.Registry().IsOnline("u1"))

	_, err = svc.PostMessage(ctx, c, event.SendMessagePayload{RoomID: "any", Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestPostMessage_AfterDisconnectIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "2023", "", true)
	c := f.join(t, "u1")
	sess, _ := f.svc.Registry().Lookup(c.ID())

	f.svc.Disconnect(ctx, c)
	f.svc.Disconnect(ctx, c)
	_, err := f.svc.PostMessage(ctx, c, event.SendMessagePayload{RoomID: sess.RoomID, Content: "late"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	rec, err := f.svc.PresenceOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, rec.Status)
}

func TestHundredConcurrentJoinsGetExactlyOneDeliveryEach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%03d", i)
		f.user(t, ids[i], "", "", true)
	}
	owner, err := f.svc.User(ctx, ids[0])
	require.NoError(t, err)
	room, err := f.svc.Rooms().CreateCustomRoom(ctx, owner, rooms.CustomRoomSpec{Name: "All hands", Participants: ids})
	require.NoError(t, err)

	conns := make([]*recConn, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		conns[i] = &recConn{id: "conn-" + id}
		wg.Add(1)
		go func(c *recConn, id string) {
			defer wg.Done()
			assert.NoError(t, f.svc.JoinUser(ctx, c, id, ""))
			_, err := f.svc.JoinRoom(ctx, c, room.ID)
			assert.NoError(t, err)
		}(conns[i], id)
	}
	wg.Wait()
	require.Equal(t, 100, f.svc.Registry().Count())

	_, err = f.svc.PostMessage(ctx, conns[42], event.SendMessagePayload{RoomID: room.ID, Content: "ping"})
	require.NoError(t, err)

	total := 0
	for _, c := range conns {
		n := len(c.ofType(event.NewMessage))
		assert.Equal(t, 1, n, c.id)
		total += n
	}
	assert.Equal(t, 100, total)
}

func TestSendDirect_DeliversToBothParties(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "a", "", "", true)
	f.user(t, "b", "", "", true)
	f.user(t, "c", "", "", true)
	ca, cb, cc := f.join(t, "a"), f.join(t, "b"), f.join(t, "c")

	m, err := f.svc.SendDirect(ctx, ca, event.SendDirectMessagePayload{ReceiverID: "b", Content: "hi b"})
	require.NoError(t, err)
	assert.False(t, m.IsRead)
	assert.Equal(t, "Name b", m.ReceiverName)

	require.Len(t, ca.ofType(event.NewDirectMessage), 1)
	require.Len(t, cb.ofType(event.NewDirectMessage), 1)
	assert.Empty(t, cc.ofType(event.NewDirectMessage))
}

func TestSendDirect_OfflineReceiverAndErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "a", "", "", true)
	f.user(t, "b", "", "", true)
	ca := f.join(t, "a")

	_, err := f.svc.SendDirect(ctx, ca, event.SendDirectMessagePayload{ReceiverID: "b", Content: "later"})
	require.NoError(t, err)
	thread, err := f.svc.ListThread(ctx, "b", "a", 50, 0)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, "later", thread[0].Content)

	_, err = f.svc.SendDirect(ctx, ca, event.SendDirectMessagePayload{ReceiverID: "ghost", Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.SendDirect(ctx, ca, event.SendDirectMessagePayload{ReceiverID: "a", Content: "me"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.SendDirect(ctx, ca, event.SendDirectMessagePayload{ReceiverID: "b", Content: ""})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReadOnViewClearsUnread(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u", "", "", true)
	f.user(t, "p", "", "", true)
	f.user(t, "q", "", "", true)
	cu, cp, cq := f.join(t, "u"), f.join(t, "p"), f.join(t, "q")

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.svc.SendDirect(ctx, cp, event.SendDirectMessagePayload{ReceiverID: "u", Content: text})
		require.NoError(t, err)
	}
	_, err := f.svc.SendDirect(ctx, cu, event.SendDirectMessagePayload{ReceiverID: "p", Content: "reply"})
	require.NoError(t, err)
	_, err = f.svc.SendDirect(ctx, cq, event.SendDirectMessagePayload{ReceiverID: "u", Content: "from q"})
	require.NoError(t, err)

	convs, err := f.svc.ListConversations(ctx, "u")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "q", convs[0].OtherUserID, "most recent first")
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, "p", convs[1].OtherUserID)
	assert.Equal(t, 3, convs[1].UnreadCount)
	assert.Equal(t, "reply", convs[1].LastMessage.Content)

	thread, err := f.svc.ListThread(ctx, "u", "p", 50, 0)
	require.NoError(t, err)
	require.Len(t, thread, 4)
	assert.Equal(t, "one", thread[0].Content)
	assert.Equal(t, "reply", thread[3].Content)
	for _, m := range thread[:3] {
		assert.True(t, m.IsRead)
	}

	convs, err = f.svc.ListConversations(ctx, "u")
	require.NoError(t, err)
	for _, conv := range convs {
		if conv.OtherUserID == "p" {
			assert.Equal(t, 0, conv.UnreadCount)
		} else {
			assert.Equal(t, 1, conv.UnreadCount)
		}
	}

	// сообщения, которые p прочитал бы сам, не затронуты просмотром u
	pconvs, err := f.svc.ListConversations(ctx, "p")
	require.NoError(t, err)
	require.Len(t, pconvs, 1)
	assert.Equal(t, 1, pconvs[0].UnreadCount)
}

func TestPresenceOf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u2", "", "", true)

	rec, err := f.svc.PresenceOf(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, rec.Status)

	c := f.join(t, "u1")
	rec, err = f.svc.PresenceOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, rec.Status)
	require.NotNil(t, rec.CurrentRoom)
	sess, _ := f.svc.Registry().Lookup(c.ID())
	assert.Equal(t, sess.RoomID, *rec.CurrentRoom)

	_, err = f.svc.PresenceOf(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPage(t *testing.T) {
	l, o := Page(0, -3)
	assert.Equal(t, DefaultPageLimit, l)
	assert.Equal(t, 0, o)
	l, _ = Page(1000, 0)
	assert.Equal(t, MaxPageLimit, l)
}
