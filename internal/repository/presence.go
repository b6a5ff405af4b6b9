package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/model"
)

type PresenceRepository struct {
	pool *pgxpool.Pool
}

func NewPresenceRepository(pool *pgxpool.Pool) *PresenceRepository {
	return &PresenceRepository{pool: pool}
}

func (r *PresenceRepository) UpsertPresence(ctx context.Context, rec model.PresenceRecord) error {
	defer logger.DeferLogDuration("presence.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_presence (user_id, status, last_seen, current_room)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET status = EXCLUDED.status, last_seen = EXCLUDED.last_seen, current_room = EXCLUDED.current_room`,
		rec.UserID, rec.Status, rec.LastSeen, rec.CurrentRoom,
	)
	if err != nil {
		return fmt.Errorf("presenceRepo.Upsert: %w", err)
	}
	return nil
}

func (r *PresenceRepository) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	defer logger.DeferLogDuration("presence.Get", time.Now())()
	rec := &model.PresenceRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, status, last_seen, current_room FROM user_presence WHERE user_id = $1`, userID,
	).Scan(&rec.UserID, &rec.Status, &rec.LastSeen, &rec.CurrentRoom)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("presenceRepo.Get: %w", err)
	}
	return rec, nil
}
