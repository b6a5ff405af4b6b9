package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alumnichat/internal/chat"
	"github.com/alumnichat/internal/event"
	"github.com/alumnichat/internal/media"
	"github.com/alumnichat/internal/middleware"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/presence"
	"github.com/alumnichat/internal/rooms"
	"github.com/alumnichat/internal/storage/memory"
	"github.com/alumnichat/internal/ws"
)

type nopConn struct{ id string }

func (c nopConn) ID() string                { return c.id }
func (c nopConn) Send(event.Outgoing) bool { return true }

type apiFixture struct {
	store *memory.Client
	svc   *chat.Service
	srv   *httptest.Server
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	store := memory.New()
	svc := chat.NewService(store, rooms.New(store, time.Second), presence.New(store, time.Second), time.Second)
	hub := ws.NewHub(svc, nil, ws.Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	local := media.NewLocalStore(t.TempDir(), "/api/chat-images")
	api := &API{
		Chat:   NewChatHandler(svc),
		Direct: NewDirectHandler(svc),
		User:   NewUserHandler(svc),
		File:   NewFileHandler(svc, media.New(local, 1<<20, 64), local),
		WS:     NewWSHandler(hub, "*"),
	}
	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.Identity(nil))
	api.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &apiFixture{store: store, svc: svc, srv: srv}
}

func (f *apiFixture) user(t *testing.T, id, cohort, track string, verified bool) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(context.Background(), &model.User{
		ID: id, Name: "Name " + id, Email: id + "@example.org", Cohort: cohort, ProgramTrack: track, IsVerifiedAlumni: verified,
	}))
}

func (f *apiFixture) do(t *testing.T, method, path string, body io.Reader, contentType string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (f *apiFixture) get(t *testing.T, path string) (int, []byte) {
	return f.do(t, http.MethodGet, path, nil, "")
}

func errText(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Error
}

func TestListRooms(t *testing.T) {
	f := newAPI(t)
	f.user(t, "u1", "2023", "Data", true)
	f.user(t, "u2", "2023", "", false)

	code, body := f.get(t, "/api/chat-rooms?user_id=u1")
	require.Equal(t, http.StatusOK, code, string(body))
	var list []model.Room
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
	assert.Equal(t, model.RoomTypeCohort, list[0].Type())
	assert.Equal(t, model.RoomTypeProgramTrack, list[1].Type())

	code, body = f.get(t, "/api/chat-rooms?user_id=u2")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Access denied. Verified alumni only.", errText(t, body))

	code, _ = f.get(t, "/api/chat-rooms")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.get(t, "/api/chat-rooms?user_id=ghost")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateRoomAndDeactivate(t *testing.T) {
	f := newAPI(t)
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u2", "2019", "", true)

	code, body := f.do(t, http.MethodPost, "/api/chat-rooms?user_id=u1",
		strings.NewReader(`{"name":"Founders","description":"side projects","participants":["u2"]}`), "application/json")
	require.Equal(t, http.StatusCreated, code, string(body))
	var row model.RoomRow
	require.NoError(t, json.Unmarshal(body, &row))
	assert.Equal(t, model.RoomTypeCustom, row.RoomType)
	assert.Equal(t, []string{"u1", "u2"}, row.Participants)
	assert.Equal(t, []string{"u1"}, row.Admins)

	code, body = f.get(t, "/api/chat-rooms?user_id=u2")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), row.ID)

	code, _ = f.do(t, http.MethodPost, "/api/chat-rooms?user_id=u1", strings.NewReader(`{"name":"  "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPost, "/api/chat-rooms?user_id=u1", strings.NewReader(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/api/chat-rooms/"+row.ID+"?user_id=u2", nil, "")
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = f.do(t, http.MethodDelete, "/api/chat-rooms/"+row.ID+"?user_id=u1", nil, "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = f.get(t, "/api/chat-rooms/"+row.ID+"/messages?user_id=u1")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetMessages_PagedChronological(t *testing.T) {
	f := newAPI(t)
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u3", "2010", "", true)
	ctx := context.Background()
	conn := nopConn{id: "c1"}
	require.NoError(t, f.svc.JoinUser(ctx, conn, "u1", ""))
	sess, ok := f.svc.Registry().Lookup("c1")
	require.True(t, ok)
	for _, text := range []string{"one", "two", "three", "four"} {
		_, err := f.svc.PostMessage(ctx, conn, event.SendMessagePayload{RoomID: sess.RoomID, Content: text})
		require.NoError(t, err)
	}

	code, body := f.get(t, "/api/chat-rooms/"+sess.RoomID+"/messages?user_id=u1&limit=2&skip=1")
	require.Equal(t, http.StatusOK, code, string(body))
	var msgs []model.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)

	code, _ = f.get(t, "/api/chat-rooms/"+sess.RoomID+"/messages?user_id=u3")
	assert.Equal(t, http.StatusForbidden, code)
}

func TestDirectThreadAndConversations(t *testing.T) {
	f := newAPI(t)
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u2", "2023", "", true)
	ctx := context.Background()
	c2 := nopConn{id: "c2"}
	require.NoError(t, f.svc.JoinUser(ctx, c2, "u2", ""))
	_, err := f.svc.SendDirect(ctx, c2, event.SendDirectMessagePayload{ReceiverID: "u1", Content: "hey"})
	require.NoError(t, err)

	code, body := f.get(t, "/api/direct-messages/conversations?user_id=u1")
	require.Equal(t, http.StatusOK, code)
	var convs []model.Conversation
	require.NoError(t, json.Unmarshal(body, &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)

	code, body = f.get(t, "/api/direct-messages?user_id=u1&other_user_id=u2")
	require.Equal(t, http.StatusOK, code)
	var thread []model.DirectMessage
	require.NoError(t, json.Unmarshal(body, &thread))
	require.Len(t, thread, 1)
	assert.True(t, thread[0].IsRead)

	_, body = f.get(t, "/api/direct-messages/conversations?user_id=u1")
	require.NoError(t, json.Unmarshal(body, &convs))
	assert.Equal(t, 0, convs[0].UnreadCount)

	code, _ = f.get(t, "/api/direct-messages?user_id=u1")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.get(t, "/api/direct-messages/conversations?user_id=u9")
	assert.Equal(t, http.StatusNotFound, code, string(body))
}

func TestUserAndOnlineStatus(t *testing.T) {
	f := newAPI(t)
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u2", "2023", "", true)

	code, body := f.get(t, "/api/users/u1")
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(body), "u1@example.org")

	require.NoError(t, f.svc.JoinUser(context.Background(), nopConn{id: "c1"}, "u1", ""))
	code, body = f.get(t, "/api/users/u1/online-status")
	require.Equal(t, http.StatusOK, code)
	var st OnlineStatusResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.IsOnline)
	require.NotNil(t, st.CurrentRoom)

	code, body = f.get(t, "/api/users/u2/online-status")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "offline", st.Status)
	assert.False(t, st.IsOnline)

	code, _ = f.get(t, "/api/users/ghost/online-status")
	assert.Equal(t, http.StatusNotFound, code)
}

func multipartImage(t *testing.T, field, name string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 128, 32))
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadAndServeImage(t *testing.T) {
	f := newAPI(t)
	f.user(t, "u1", "2023", "", true)
	f.user(t, "u2", "2023", "", false)

	body, ct := multipartImage(t, "file", "pic.png", smallPNG(t))
	code, resp := f.do(t, http.MethodPost, "/api/chat-images/upload?user_id=u1", body, ct)
	require.Equal(t, http.StatusOK, code, string(resp))
	var res media.Result
	require.NoError(t, json.Unmarshal(resp, &res))
	assert.Equal(t, 64, res.Width)
	require.True(t, strings.HasPrefix(res.ImageURL, "/api/chat-images/"))

	code, img := f.get(t, res.ImageURL)
	require.Equal(t, http.StatusOK, code)
	_, err := png.Decode(bytes.NewReader(img))
	assert.NoError(t, err)

	body, ct = multipartImage(t, "file", "pic.png", smallPNG(t))
	code, _ = f.do(t, http.MethodPost, "/api/chat-images/upload?user_id=u2", body, ct)
	assert.Equal(t, http.StatusForbidden, code)

	body, ct = multipartImage(t, "other", "pic.png", smallPNG(t))
	code, _ = f.do(t, http.MethodPost, "/api/chat-images/upload?user_id=u1", body, ct)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, "/api/chat-images/missing.png")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWebSocketEndpoint(t *testing.T) {
	f := newAPI(t)
	f.user(t, "u1", "2023", "", true)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var ev struct {
		Type    event.Type      `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, event.Connected, ev.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "join_user",
		"payload": map[string]string{"user_id": "u1", "user_name": "Ann"},
	}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, event.UserJoined, ev.Type)
}

func TestHealth(t *testing.T) {
	f := newAPI(t)
	code, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))
}

func TestPageParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=500&skip=3", nil)
	limit, offset := pageParams(r)
	assert.Equal(t, chat.MaxPageLimit, limit)
	assert.Equal(t, 3, offset)

	r = httptest.NewRequest(http.MethodGet, "/x?offset=5&skip=3", nil)
	limit, offset = pageParams(r)
	assert.Equal(t, chat.DefaultPageLimit, limit)
	assert.Equal(t, 5, offset)
}
