package handler

import (
	"net/http"

	"github.com/alumnichat/internal/chat"
	"github.com/alumnichat/internal/model"
)

type DirectHandler struct {
	svc *chat.Service
}

func NewDirectHandler(svc *chat.Service) *DirectHandler {
	return &DirectHandler{svc: svc}
}

// GetThread отдаёт переписку с other_user_id; входящие при этом помечаются прочитанными.
func (h *DirectHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	msgs, err := h.svc.ListThread(r.Context(), userID, r.URL.Query().Get("other_user_id"), limit, offset)
	if err != nil {
		writeAppError(w, "direct.thread", err)
		return
	}
	if msgs == nil {
		msgs = []model.DirectMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *DirectHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	convs, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		writeAppError(w, "direct.conversations", err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}
