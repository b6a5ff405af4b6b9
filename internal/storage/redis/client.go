// Package redis: зеркало присутствия в Redis: одна JSON-запись на пользователя с TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/storage"
)

// DefaultPresenceTTL: запись переживает перезапуск сервиса, но не висит вечно.
const DefaultPresenceTTL = 24 * time.Hour

const presencePrefix = "presence:"

type Client struct {
	cli *redis.Client
	ttl time.Duration
}

var _ storage.PresenceStore = (*Client)(nil)

func New(ctx context.Context, url string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(cli, ttl), nil
}

// NewFromClient оборачивает готовый клиент (общий пул, тесты).
func NewFromClient(cli *redis.Client, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &Client{cli: cli, ttl: ttl}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func presenceKey(userID string) string { return presencePrefix + userID }

// UpsertPresence перезаписывает запись целиком, TTL продлевается.
func (c *Client) UpsertPresence(ctx context.Context, rec model.PresenceRecord) error {
	defer logger.DeferLogDuration("redis.UpsertPresence", time.Now())()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis.UpsertPresence marshal: %w", err)
	}
	if err := c.cli.Set(ctx, presenceKey(rec.UserID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis.UpsertPresence: %w", err)
	}
	return nil
}

func (c *Client) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	defer logger.DeferLogDuration("redis.GetPresence", time.Now())()
	val, err := c.cli.Get(ctx, presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis.GetPresence: %w", err)
	}
	var rec model.PresenceRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("redis.GetPresence decode: %w", err)
	}
	return &rec, nil
}

// FlushPresence удаляет все записи присутствия (SCAN, без FLUSHDB: база может быть общей).
// Вызывается при старте, чтобы не показывать online после падения процесса.
func (c *Client) FlushPresence(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := c.cli.Scan(ctx, cursor, presencePrefix+"*", 200).Result()
		if err != nil {
			return n, fmt.Errorf("redis.FlushPresence scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.cli.Del(ctx, keys...).Err(); err != nil {
				return n, fmt.Errorf("redis.FlushPresence del: %w", err)
			}
			n += len(keys)
		}
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}
