package middleware

import (
	"net/http"
	"time"

	"github.com/alumnichat/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, status, user и время выполнения.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrap, r)
		l := logger.With(
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrap.status,
			"user_id", GetUserID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if wrap.status >= http.StatusInternalServerError {
			l.Warn("http request")
			return
		}
		l.Debug("http request")
	})
}
