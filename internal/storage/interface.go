package storage

import (
	"context"
	"time"

	"github.com/campuskit/broadcast/internal/model"
)

// BroadcastStorage persists one durable row per broadcast attempt and lets
// the flusher advance the embedded email delivery state.
type BroadcastStorage interface {
	// Save inserts the row atomically and fills in the generated id and
	// created_at on b.
	Save(ctx context.Context, b *model.Broadcast) error
	FindByID(ctx context.Context, id int64) (*model.Broadcast, error)
	// FindFlushCandidates returns rows whose email status is one of statuses,
	// oldest first.
	FindFlushCandidates(ctx context.Context, statuses []model.EmailStatus, limit int) ([]model.Broadcast, error)
	// UpdateEmailState overwrites the embedded email state. There is no
	// optimistic-concurrency token: concurrent writers are last-writer-wins.
	UpdateEmailState(ctx context.Context, id int64, state model.EmailDeliveryState) error
	// List returns a page of rows, newest first, plus the total row count.
	List(ctx context.Context, offset, limit int) ([]model.Broadcast, int64, error)
	Ping(ctx context.Context) error
}

// UserStorage is the read-only directory the resolver and the admin gate
// query. Users are owned by an external system.
type UserStorage interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	// FindActiveByIDs returns the active users among ids; missing or
	// inactive ids are simply absent from the result.
	FindActiveByIDs(ctx context.Context, ids []int64) ([]model.User, error)
	FindAllActive(ctx context.Context) ([]model.User, error)
	// Search runs one bounded filter group. The filter must be normalized.
	Search(ctx context.Context, f model.RecipientFilter) ([]model.User, error)
}

// MessageStorage owns per-recipient in-app message rows.
type MessageStorage interface {
	// Insert creates the row and fills in the generated id and created_at.
	Insert(ctx context.Context, m *model.Message) error
	FindByIDs(ctx context.Context, ids []int64) ([]model.Message, error)
	// FindSystemByTitleInWindow matches system messages by title and
	// creation-time window for content-hash reconciliation.
	FindSystemByTitleInWindow(ctx context.Context, title string, from, to time.Time) ([]model.Message, error)
}
