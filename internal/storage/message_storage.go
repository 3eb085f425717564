package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/campuskit/broadcast/internal/model"
)

type messageStorage struct {
	db *sqlx.DB
}

// NewMessageStorage returns the Postgres-backed message store.
func NewMessageStorage(db *sqlx.DB) MessageStorage {
	return &messageStorage{db: db}
}

// Insert creates one message row. Each row is independent, so fan-out
// failures stay isolated per recipient.
func (s *messageStorage) Insert(ctx context.Context, m *model.Message) error {
	const query = `INSERT INTO messages (receiver_id, kind, title, content, priority)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`

	row := s.db.QueryRowxContext(ctx, query, m.ReceiverID, m.Kind, m.Title, m.Content, m.Priority)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *messageStorage) FindByIDs(ctx context.Context, ids []int64) ([]model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, receiver_id, kind, title, content, priority, is_read, created_at, deleted_at
		 FROM messages WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build message lookup query: %w", err)
	}
	query = s.db.Rebind(query)

	var msgs []model.Message
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("find messages by ids failed: %w", err)
	}
	return msgs, nil
}

func (s *messageStorage) FindSystemByTitleInWindow(ctx context.Context, title string, from, to time.Time) ([]model.Message, error) {
	const query = `SELECT id, receiver_id, kind, title, content, priority, is_read, created_at, deleted_at
		FROM messages
		WHERE kind = $1 AND title = $2 AND created_at BETWEEN $3 AND $4`

	var msgs []model.Message
	if err := s.db.SelectContext(ctx, &msgs, query, model.MessageKindSystem, title, from, to); err != nil {
		return nil, fmt.Errorf("find messages by title window failed: %w", err)
	}
	return msgs, nil
}
