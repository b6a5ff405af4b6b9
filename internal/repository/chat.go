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

const roomCols = `id, name, description, room_type, attribute, participants, admins, created_by, is_active, created_at`

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func scanRoom(s pgx.Row) (*model.Room, error) {
	var row model.RoomRow
	var attribute string
	if err := s.Scan(&row.ID, &row.Name, &row.Description, &row.RoomType, &attribute,
		&row.Participants, &row.Admins, &row.CreatedBy, &row.IsActive, &row.CreatedAt); err != nil {
		return nil, err
	}
	switch row.RoomType {
	case model.RoomTypeCohort:
		row.Cohort = attribute
	case model.RoomTypeProgramTrack:
		row.ProgramTrack = attribute
	}
	return row.Room()
}

func roomArgs(r *model.Room) []any {
	row := r.Row()
	return []any{row.ID, row.Name, row.Description, row.RoomType, r.Attribute(),
		row.Participants, row.Admins, row.CreatedBy, row.IsActive, row.CreatedAt}
}

func (r *RoomRepository) CreateRoom(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_rooms (`+roomCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		roomArgs(room)...,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Create: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room, err := scanRoom(r.pool.QueryRow(ctx, `SELECT `+roomCols+` FROM chat_rooms WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) FindAttributeRoom(ctx context.Context, t model.RoomType, attr string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.FindAttribute", time.Now())()
	room, err := scanRoom(r.pool.QueryRow(ctx,
		`SELECT `+roomCols+` FROM chat_rooms
		 WHERE room_type = $1 AND attribute = $2 AND is_active
		 ORDER BY created_at LIMIT 1`, t, attr,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.FindAttribute: %w", err)
	}
	return room, nil
}

// InsertAttributeRoom полагается на частичный уникальный индекс idx_chat_rooms_attribute:
// проигравший гонку INSERT ничего не вставляет и читает уже созданную комнату.
func (r *RoomRepository) InsertAttributeRoom(ctx context.Context, room *model.Room) (*model.Room, error) {
	defer logger.DeferLogDuration("room.InsertAttribute", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO chat_rooms (`+roomCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (room_type, attribute) WHERE is_active AND room_type IN ('cohort', 'program_track')
		 DO NOTHING`,
		roomArgs(room)...,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.InsertAttribute: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return room, nil
	}
	existing, err := r.FindAttributeRoom(ctx, room.Type(), room.Attribute())
	if err != nil {
		return nil, fmt.Errorf("roomRepo.InsertAttribute reread: %w", err)
	}
	return existing, nil
}

func (r *RoomRepository) ListParticipantRooms(ctx context.Context, userID string) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.ListParticipant", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+roomCols+` FROM chat_rooms
		 WHERE room_type = 'custom' AND is_active AND $1 = ANY(participants)
		 ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListParticipant query: %w", err)
	}
	defer rows.Close()

	rooms := make([]model.Room, 0, 4)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("roomRepo.ListParticipant scan: %w", err)
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ListParticipant rows: %w", err)
	}
	return rooms, nil
}

func (r *RoomRepository) DeactivateRoom(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("room.Deactivate", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE chat_rooms SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("roomRepo.Deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
