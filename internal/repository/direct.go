package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/model"
)

const directCols = `id, seq, sender_id, sender_name, receiver_id, receiver_name, message_type, content,
	image_url, file_url, is_read, is_deleted, created_at`

type DirectMessageRepository struct {
	pool *pgxpool.Pool
}

func NewDirectMessageRepository(pool *pgxpool.Pool) *DirectMessageRepository {
	return &DirectMessageRepository{pool: pool}
}

func directDest(m *model.DirectMessage) []any {
	return []any{&m.ID, &m.Seq, &m.SenderID, &m.SenderName, &m.ReceiverID, &m.ReceiverName, &m.MessageType, &m.Content,
		&m.ImageURL, &m.FileURL, &m.IsRead, &m.IsDeleted, &m.CreatedAt}
}

func (r *DirectMessageRepository) CreateDirectMessage(ctx context.Context, m *model.DirectMessage) error {
	defer logger.DeferLogDuration("dm.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO direct_messages (id, sender_id, sender_name, receiver_id, receiver_name, message_type, content,
		                              image_url, file_url, is_read, is_deleted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING seq`,
		m.ID, m.SenderID, m.SenderName, m.ReceiverID, m.ReceiverName, m.MessageType, m.Content,
		m.ImageURL, m.FileURL, m.IsRead, m.IsDeleted, m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("dmRepo.Create: %w", err)
	}
	return nil
}

func (r *DirectMessageRepository) ListThread(ctx context.Context, a, b string, limit, offset int) ([]model.DirectMessage, error) {
	defer logger.DeferLogDuration("dm.ListThread", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+directCols+`
		 FROM direct_messages
		 WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		   AND NOT is_deleted
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $3 OFFSET $4`, a, b, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("dmRepo.ListThread query: %w", err)
	}
	defer rows.Close()

	out := make([]model.DirectMessage, 0, limit)
	for rows.Next() {
		var m model.DirectMessage
		if err := rows.Scan(directDest(&m)...); err != nil {
			return nil, fmt.Errorf("dmRepo.ListThread scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dmRepo.ListThread rows: %w", err)
	}
	return out, nil
}

func (r *DirectMessageRepository) MarkThreadRead(ctx context.Context, to, from string) (int64, error) {
	defer logger.DeferLogDuration("dm.MarkThreadRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE direct_messages SET is_read = TRUE
		 WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read AND NOT is_deleted`,
		to, from,
	)
	if err != nil {
		return 0, fmt.Errorf("dmRepo.MarkThreadRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Conversations: последнее сообщение по каждому собеседнику (DISTINCT ON) и число непрочитанных.
func (r *DirectMessageRepository) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("dm.Conversations", time.Now())()
	rows, err := r.pool.Query(ctx,
		`WITH mine AS (
		     SELECT *, CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS peer_id,
		               CASE WHEN sender_id = $1 THEN receiver_name ELSE sender_name END AS peer_name
		     FROM direct_messages
		     WHERE (sender_id = $1 OR receiver_id = $1) AND NOT is_deleted
		 ), unread AS (
		     SELECT peer_id, COUNT(*) AS n FROM mine
		     WHERE receiver_id = $1 AND NOT is_read
		     GROUP BY peer_id
		 )
		 SELECT DISTINCT ON (m.peer_id) m.peer_id, m.peer_name, COALESCE(u.n, 0),
		        `+prefixed("m.", directCols)+`
		 FROM mine m
		 LEFT JOIN unread u ON u.peer_id = m.peer_id
		 ORDER BY m.peer_id, m.created_at DESC, m.seq DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("dmRepo.Conversations query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Conversation, 0, 8)
	for rows.Next() {
		var c model.Conversation
		var unread int64
		dest := append([]any{&c.OtherUserID, &c.OtherUserName, &unread}, directDest(&c.LastMessage)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("dmRepo.Conversations scan: %w", err)
		}
		c.UnreadCount = int(unread)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dmRepo.Conversations rows: %w", err)
	}
	return out, nil
}
