package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alumnichat/internal/chat"
	"github.com/alumnichat/internal/model"
)

type UserHandler struct {
	svc *chat.Service
}

func NewUserHandler(svc *chat.Service) *UserHandler {
	return &UserHandler{svc: svc}
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.User(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, "users.get", err)
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

// OnlineStatusResponse: присутствие пользователя; current_room только у online.
type OnlineStatusResponse struct {
	UserID      string  `json:"user_id"`
	Status      string  `json:"status"`
	IsOnline    bool    `json:"is_online"`
	LastSeen    *string `json:"last_seen,omitempty"`
	CurrentRoom *string `json:"current_room,omitempty"`
}

func (h *UserHandler) GetOnlineStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.PresenceOf(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, "users.online_status", err)
		return
	}
	resp := OnlineStatusResponse{
		UserID:      rec.UserID,
		Status:      string(rec.Status),
		IsOnline:    rec.Status == model.StatusOnline,
		CurrentRoom: rec.CurrentRoom,
	}
	if !rec.LastSeen.IsZero() {
		ts := rec.LastSeen.UTC().Format(time.RFC3339)
		resp.LastSeen = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}
