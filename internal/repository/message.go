package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/model"
)

const messageCols = `id, seq, room_id, sender_id, sender_name, message_type, content, image_url, file_url,
	reply_to, is_deleted, is_edited, created_at, updated_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s pgx.Row, m *model.Message) error {
	return s.Scan(&m.ID, &m.Seq, &m.RoomID, &m.SenderID, &m.SenderName, &m.MessageType, &m.Content, &m.ImageURL, &m.FileURL,
		&m.ReplyTo, &m.IsDeleted, &m.IsEdited, &m.CreatedAt, &m.UpdatedAt)
}

// CreateMessage вставляет сообщение; seq назначает БД.
func (r *MessageRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, room_id, sender_id, sender_name, message_type, content, image_url, file_url,
		                            reply_to, is_deleted, is_edited, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING seq`,
		m.ID, m.RoomID, m.SenderID, m.SenderName, m.MessageType, m.Content, m.ImageURL, m.FileURL,
		m.ReplyTo, m.IsDeleted, m.IsEdited, m.CreatedAt, m.UpdatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListRoomMessages(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListRoom", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+`
		 FROM chat_messages
		 WHERE room_id = $1 AND NOT is_deleted
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $2 OFFSET $3`, roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListRoom query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListRoom scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListRoom rows: %w", err)
	}
	return messages, nil
}
