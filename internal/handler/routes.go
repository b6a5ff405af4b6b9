package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// API: все HTTP-обработчики сервиса чата.
type API struct {
	Chat   *ChatHandler
	Direct *DirectHandler
	User   *UserHandler
	File   *FileHandler
	WS     *WSHandler
}

// Mount регистрирует маршруты; middleware (Identity, лимиты) вешает вызывающий.
func (a *API) Mount(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/api/users/{id}", a.User.GetUser)
	r.Get("/api/users/{id}/online-status", a.User.GetOnlineStatus)

	r.Get("/api/chat-rooms", a.Chat.ListRooms)
	r.Post("/api/chat-rooms", a.Chat.CreateRoom)
	r.Delete("/api/chat-rooms/{id}", a.Chat.DeactivateRoom)
	r.Get("/api/chat-rooms/{id}/messages", a.Chat.GetMessages)

	r.Get("/api/direct-messages", a.Direct.GetThread)
	r.Get("/api/direct-messages/conversations", a.Direct.GetConversations)

	if a.File != nil {
		r.Post("/api/chat-images/upload", a.File.Upload)
		r.Get("/api/chat-images/{filename}", a.File.Serve)
	}
	if a.WS != nil {
		r.Get("/ws", a.WS.ServeWS)
	}
}
