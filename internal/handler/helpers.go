package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alumnichat/internal/apperr"
	"github.com/alumnichat/internal/chat"
	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/metrics"
	"github.com/alumnichat/internal/middleware"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeAppError переводит ошибку сервиса в статус и текст; детали 5xx остаются в логе.
func writeAppError(w http.ResponseWriter, op string, err error) {
	status := apperr.HTTPStatus(err)
	metrics.OpErrors.WithLabelValues(op, apperr.Kind(err)).Inc()
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s: %v", op, err)
	}
	writeError(w, status, apperr.Message(err))
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// pageParams: limit/offset, skip: синоним offset для старых клиентов.
func pageParams(r *http.Request) (limit, offset int) {
	offset = queryInt(r, "offset", -1)
	if offset < 0 {
		offset = queryInt(r, "skip", 0)
	}
	return chat.Page(queryInt(r, "limit", chat.DefaultPageLimit), offset)
}

// requireUser возвращает id вызывающего или пишет 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user_id required")
		return "", false
	}
	return userID, true
}
