package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/model"
)

type broadcastStorage struct {
	db *sqlx.DB
}

// NewBroadcastStorage returns the Postgres-backed broadcast store.
func NewBroadcastStorage(db *sqlx.DB) BroadcastStorage {
	return &broadcastStorage{db: db}
}

// broadcastRow mirrors the broadcasts table. Snapshot collections live in
// JSONB columns and are serialized only at this boundary.
type broadcastRow struct {
	ID                 int64     `db:"id"`
	CreatedAt          time.Time `db:"created_at"`
	AdminID            int64     `db:"admin_id"`
	Title              string    `db:"title"`
	Content            string    `db:"content"`
	Priority           string    `db:"priority"`
	Scope              string    `db:"scope"`
	Criteria           []byte    `db:"criteria"`
	TargetCount        int       `db:"target_count"`
	SentCount          int       `db:"sent_count"`
	InvalidIDs         []byte    `db:"invalid_ids"`
	InvalidIDsTrunc    bool      `db:"invalid_ids_truncated"`
	FailedUserIDs      []byte    `db:"failed_user_ids"`
	FailedUserIDsTrunc bool      `db:"failed_user_ids_truncated"`
	MessageIDsSnapshot []byte    `db:"message_ids_snapshot"`
	MessageIDsTrunc    bool      `db:"message_ids_snapshot_truncated"`
	MessageIDMap       []byte    `db:"message_id_map_snapshot"`
	MessageIDMapTrunc  bool      `db:"message_id_map_truncated"`
	ContentHash        string    `db:"content_hash"`
	EmailState         []byte    `db:"email_state"`
	AuditLogID         *int64    `db:"audit_log_id"`
	RequestLogID       *int64    `db:"request_log_id"`
	ErrorLogIDs        []byte    `db:"error_log_ids"`
	RequestID          string    `db:"request_id"`
}

const broadcastColumns = `id, created_at, admin_id, title, content, priority, scope, criteria,
	target_count, sent_count, invalid_ids, invalid_ids_truncated,
	failed_user_ids, failed_user_ids_truncated,
	message_ids_snapshot, message_ids_snapshot_truncated,
	message_id_map_snapshot, message_id_map_truncated,
	content_hash, email_state, audit_log_id, request_log_id, error_log_ids, request_id`

func toRow(b *model.Broadcast) (*broadcastRow, error) {
	row := &broadcastRow{
		ID:                 b.ID,
		CreatedAt:          b.CreatedAt,
		AdminID:            b.AdminID,
		Title:              b.Title,
		Content:            b.Content,
		Priority:           string(b.Priority),
		Scope:              string(b.Scope),
		TargetCount:        b.TargetCount,
		SentCount:          b.SentCount,
		InvalidIDsTrunc:    b.InvalidIDsTruncated,
		FailedUserIDsTrunc: b.FailedUserIDsTruncated,
		MessageIDsTrunc:    b.MessageIDsTruncated,
		MessageIDMapTrunc:  b.MessageIDMapTruncated,
		ContentHash:        b.ContentHash,
		AuditLogID:         b.AuditLogID,
		RequestLogID:       b.RequestLogID,
		RequestID:          b.RequestID,
	}

	var err error
	if b.Criteria != nil {
		if row.Criteria, err = json.Marshal(b.Criteria); err != nil {
			return nil, fmt.Errorf("marshal criteria: %w", err)
		}
	}
	if row.InvalidIDs, err = marshalIDs(b.InvalidIDs); err != nil {
		return nil, err
	}
	if row.FailedUserIDs, err = marshalIDs(b.FailedUserIDs); err != nil {
		return nil, err
	}
	if row.MessageIDsSnapshot, err = marshalIDs(b.MessageIDsSnapshot); err != nil {
		return nil, err
	}
	idMap := b.MessageIDMapSnapshot
	if idMap == nil {
		idMap = map[int64]int64{}
	}
	if row.MessageIDMap, err = json.Marshal(idMap); err != nil {
		return nil, fmt.Errorf("marshal id map: %w", err)
	}
	if row.EmailState, err = json.Marshal(b.Email); err != nil {
		return nil, fmt.Errorf("marshal email state: %w", err)
	}
	if row.ErrorLogIDs, err = marshalIDs(b.ErrorLogIDs); err != nil {
		return nil, err
	}
	return row, nil
}

func (r *broadcastRow) toModel() (*model.Broadcast, error) {
	b := &model.Broadcast{
		ID:                     r.ID,
		CreatedAt:              r.CreatedAt,
		AdminID:                r.AdminID,
		Title:                  r.Title,
		Content:                r.Content,
		Priority:               model.Priority(r.Priority),
		Scope:                  model.Scope(r.Scope),
		TargetCount:            r.TargetCount,
		SentCount:              r.SentCount,
		InvalidIDsTruncated:    r.InvalidIDsTrunc,
		FailedUserIDsTruncated: r.FailedUserIDsTrunc,
		MessageIDsTruncated:    r.MessageIDsTrunc,
		MessageIDMapTruncated:  r.MessageIDMapTrunc,
		ContentHash:            r.ContentHash,
		AuditLogID:             r.AuditLogID,
		RequestLogID:           r.RequestLogID,
		RequestID:              r.RequestID,
	}

	if len(r.Criteria) > 0 {
		b.Criteria = &model.TargetCriteria{}
		if err := json.Unmarshal(r.Criteria, b.Criteria); err != nil {
			return nil, fmt.Errorf("unmarshal criteria: %w", err)
		}
	}
	if err := unmarshalIDs(r.InvalidIDs, &b.InvalidIDs); err != nil {
		return nil, err
	}
	if err := unmarshalIDs(r.FailedUserIDs, &b.FailedUserIDs); err != nil {
		return nil, err
	}
	if err := unmarshalIDs(r.MessageIDsSnapshot, &b.MessageIDsSnapshot); err != nil {
		return nil, err
	}
	if len(r.MessageIDMap) > 0 {
		if err := json.Unmarshal(r.MessageIDMap, &b.MessageIDMapSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal id map: %w", err)
		}
	}
	if len(r.EmailState) > 0 {
		if err := json.Unmarshal(r.EmailState, &b.Email); err != nil {
			return nil, fmt.Errorf("unmarshal email state: %w", err)
		}
	}
	if err := unmarshalIDs(r.ErrorLogIDs, &b.ErrorLogIDs); err != nil {
		return nil, err
	}
	return b, nil
}

func marshalIDs(ids []int64) ([]byte, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal id list: %w", err)
	}
	return data, nil
}

func unmarshalIDs(data []byte, dst *[]int64) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal id list: %w", err)
	}
	return nil
}

// Save inserts the row in a single statement so a broadcast attempt is either
// fully recorded or not at all.
func (s *broadcastStorage) Save(ctx context.Context, b *model.Broadcast) error {
	row, err := toRow(b)
	if err != nil {
		return err
	}

	const query = `INSERT INTO broadcasts
		(admin_id, title, content, priority, scope, criteria,
		 target_count, sent_count, invalid_ids, invalid_ids_truncated,
		 failed_user_ids, failed_user_ids_truncated,
		 message_ids_snapshot, message_ids_snapshot_truncated,
		 message_id_map_snapshot, message_id_map_truncated,
		 content_hash, email_state, audit_log_id, request_log_id,
		 error_log_ids, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id, created_at`

	r := s.db.QueryRowxContext(ctx, query,
		row.AdminID, row.Title, row.Content, row.Priority, row.Scope, row.Criteria,
		row.TargetCount, row.SentCount, row.InvalidIDs, row.InvalidIDsTrunc,
		row.FailedUserIDs, row.FailedUserIDsTrunc,
		row.MessageIDsSnapshot, row.MessageIDsTrunc,
		row.MessageIDMap, row.MessageIDMapTrunc,
		row.ContentHash, row.EmailState, row.AuditLogID, row.RequestLogID,
		row.ErrorLogIDs, row.RequestID,
	)
	if err := r.Scan(&b.ID, &b.CreatedAt); err != nil {
		return fmt.Errorf("failed to save broadcast: %w", err)
	}
	return nil
}

func (s *broadcastStorage) FindByID(ctx context.Context, id int64) (*model.Broadcast, error) {
	query := fmt.Sprintf(`SELECT %s FROM broadcasts WHERE id = $1`, broadcastColumns)

	var row broadcastRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("broadcast %d: %w", id, appErr.ErrNotFound)
		}
		return nil, fmt.Errorf("find broadcast by id failed: %w", err)
	}
	return row.toModel()
}

func (s *broadcastStorage) FindFlushCandidates(ctx context.Context, statuses []model.EmailStatus, limit int) ([]model.Broadcast, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}

	query, args, err := sqlx.In(fmt.Sprintf(
		`SELECT %s FROM broadcasts WHERE email_state->>'status' IN (?) ORDER BY created_at ASC LIMIT ?`,
		broadcastColumns), raw, limit)
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}
	query = s.db.Rebind(query)

	var rows []broadcastRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find flush candidates failed: %w", err)
	}
	return rowsToModels(rows)
}

func (s *broadcastStorage) UpdateEmailState(ctx context.Context, id int64, state model.EmailDeliveryState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal email state: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE broadcasts SET email_state = $1 WHERE id = $2`, data, id)
	if err != nil {
		return fmt.Errorf("failed to update email state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("broadcast %d: %w", id, appErr.ErrNotFound)
	}
	return nil
}

func (s *broadcastStorage) List(ctx context.Context, offset, limit int) ([]model.Broadcast, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM broadcasts`); err != nil {
		return nil, 0, fmt.Errorf("count broadcasts failed: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM broadcasts ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		broadcastColumns)

	var rows []broadcastRow
	if err := s.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list broadcasts failed: %w", err)
	}
	models, err := rowsToModels(rows)
	if err != nil {
		return nil, 0, err
	}
	return models, total, nil
}

func (s *broadcastStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func rowsToModels(rows []broadcastRow) ([]model.Broadcast, error) {
	out := make([]model.Broadcast, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}
