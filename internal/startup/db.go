// Package startup: подключение к внешним хранилищам с повторами при старте сервиса.
package startup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alumnichat/internal/logger"
)

// ConnectDBWithRetry подключается к Postgres с повторами; при недоступности БД не роняет процесс сразу.
// logPrefix добавляется к сообщениям лога (например "chat: ").
func ConnectDBWithRetry(poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) *pgxpool.Pool {
	pool, err := Retry(maxWait, logPrefix+"db", func() (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping: %w", err)
		}
		return pool, nil
	})
	if err != nil {
		os.Exit(1)
	}
	return pool
}

// Retry вызывает connect с экспоненциальной паузой (2s..30s), пока не истечёт maxWait.
func Retry[T any](maxWait time.Duration, what string, connect func() (T, error)) (T, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		v, err := connect()
		if err == nil {
			return v, nil
		}
		if time.Now().After(deadline) {
			logger.Errorf("%s (gave up after %v): %v", what, maxWait, err)
			return v, err
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		time.Sleep(backoff)
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d < 30*time.Second {
		return d * 2
	}
	return d
}
