package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alumnichat/internal/chat"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/rooms"
)

type ChatHandler struct {
	svc *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// ListRooms: комнаты, доступные пользователю: своя cohort, свой track, custom-комнаты с участием.
func (h *ChatHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	u, err := h.svc.VerifiedUser(r.Context(), userID)
	if err != nil {
		writeAppError(w, "rooms.list", err)
		return
	}
	list, err := h.svc.Rooms().ListAccessible(r.Context(), u)
	if err != nil {
		writeAppError(w, "rooms.list", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ChatHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req rooms.CustomRoomSpec
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	u, err := h.svc.VerifiedUser(r.Context(), userID)
	if err != nil {
		writeAppError(w, "rooms.create", err)
		return
	}
	room, err := h.svc.Rooms().CreateCustomRoom(r.Context(), u, req)
	if err != nil {
		writeAppError(w, "rooms.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *ChatHandler) DeactivateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	u, err := h.svc.VerifiedUser(r.Context(), userID)
	if err != nil {
		writeAppError(w, "rooms.deactivate", err)
		return
	}
	if err := h.svc.Rooms().Deactivate(r.Context(), u, chi.URLParam(r, "id")); err != nil {
		writeAppError(w, "rooms.deactivate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMessages: история комнаты по возрастанию времени, страница limit/offset от самых новых.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	msgs, err := h.svc.ListMessages(r.Context(), userID, chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeAppError(w, "messages.list", err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
