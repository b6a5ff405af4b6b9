// Package logger предоставляет логирование с префиксом сервиса поверх zap.
// Поддерживается логирование времени выполнения функций.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	prefix string
	once   sync.Once
)

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func build(level zapcore.Level) *zap.Logger {
	var cfg zap.Config
	if os.Getenv("APP_ENV") == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func initDefault() {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = build(parseLevel(os.Getenv("LOG_LEVEL")))
		sugar = base.Sugar()
	}
}

func get() *zap.SugaredLogger {
	once.Do(initDefault)
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// SetLevel пересоздаёт логгер с указанным уровнем (debug, info, warn, error).
func SetLevel(level string) {
	once.Do(initDefault)
	l := build(parseLevel(level))
	mu.Lock()
	base = l
	sugar = l.Sugar()
	if prefix != "" {
		sugar = sugar.With("service", prefix)
	}
	mu.Unlock()
}

// SetPrefix задаёт имя сервиса для всех последующих логов (например "chat").
func SetPrefix(p string) {
	once.Do(initDefault)
	mu.Lock()
	prefix = p
	sugar = base.Sugar()
	if p != "" {
		sugar = sugar.With("service", p)
	}
	mu.Unlock()
}

// Replace подменяет логгер (используется в тестах с zaptest/observer).
func Replace(l *zap.Logger) {
	once.Do(initDefault)
	mu.Lock()
	base = l
	sugar = l.Sugar()
	mu.Unlock()
}

// Sync сбрасывает буферы zap; вызывать при завершении процесса.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}

func Info(v ...any) { get().Info(v...) }

func Infof(format string, v ...any) { get().Infof(format, v...) }

func Debugf(format string, v ...any) { get().Debugf(format, v...) }

func Warnf(format string, v ...any) { get().Warnf(format, v...) }

func Error(v ...any) { get().Error(v...) }

func Errorf(format string, v ...any) { get().Errorf(format, v...) }

// With возвращает логгер с дополнительными полями (user_id, conn_id и т.п.).
func With(kv ...any) *zap.SugaredLogger { return get().With(kv...) }

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На уровне info логируются только вызовы дольше 100ms; на debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := get()
	if elapsed >= 100*time.Millisecond {
		l.Infow("slow call", "fn", fn, "duration_ms", elapsed.Milliseconds())
		return
	}
	l.Debugw("call", "fn", fn, "duration_ms", elapsed.Milliseconds())
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
