// Package repository: postgres-хранилище чата на pgxpool.
package repository

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/storage"
	"github.com/alumnichat/migrations"
)

// Store собирает репозитории в storage.Store.
type Store struct {
	*UserRepository
	*RoomRepository
	*MessageRepository
	*DirectMessageRepository
	*PresenceRepository
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		UserRepository:          NewUserRepository(pool),
		RoomRepository:          NewRoomRepository(pool),
		MessageRepository:       NewMessageRepository(pool),
		DirectMessageRepository: NewDirectMessageRepository(pool),
		PresenceRepository:      NewPresenceRepository(pool),
		pool:                    pool,
	}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate применяет встроенные миграции по порядку имён; применённые записываются в schema_migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	defer logger.DeferLogDuration("repository.Migrate", time.Now())()
	if _, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`,
	); err != nil {
		return fmt.Errorf("migrate: schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("migrate: glob: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		var applied bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("migrate: check %s: %w", name, err)
		}
		if applied {
			continue
		}
		body, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", name, err)
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("migrate: begin %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migrate: record %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("migrate: commit %s: %w", name, err)
		}
		logger.Infof("migrate: применена %s", name)
	}
	return nil
}

// prefixed добавляет алиас таблицы к каждой колонке списка.
func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
