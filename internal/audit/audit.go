// Package audit provides the audit-log, error-log and request-log
// collaborators. Each write returns the inserted row id so broadcast rows can
// link back to it; callers treat write failures as log-only.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// AuditLogger records admin actions.
type AuditLogger interface {
	Log(ctx context.Context, adminID int64, action string, detail any) (int64, error)
}

// ErrorLogger records infrastructure and per-recipient failures.
type ErrorLogger interface {
	LogError(ctx context.Context, kind, message, requestID string, detail any) (int64, error)
}

// RequestRecord is one request-log row.
type RequestRecord struct {
	RequestID string
	AdminID   int64
	Method    string
	Path      string
	Outcome   string
}

// RequestLogger records one row per admin request that mutates state.
type RequestLogger interface {
	LogRequest(ctx context.Context, rec RequestRecord) (int64, error)
}

// Recorder is the Postgres implementation of all three log collaborators.
type Recorder struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewRecorder(db *sqlx.DB, logger *slog.Logger) *Recorder {
	return &Recorder{
		db:     db,
		logger: logger.With("layer", "audit"),
	}
}

func (r *Recorder) Log(ctx context.Context, adminID int64, action string, detail any) (int64, error) {
	data, err := marshalDetail(detail)
	if err != nil {
		return 0, err
	}

	var id int64
	row := r.db.QueryRowxContext(ctx,
		`INSERT INTO audit_logs (admin_id, action, detail) VALUES ($1, $2, $3) RETURNING id`,
		adminID, action, data)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to write audit log: %w", err)
	}

	r.logger.Info("Audit entry recorded",
		slog.Int64("id", id),
		slog.Int64("admin_id", adminID),
		slog.String("action", action))
	return id, nil
}

func (r *Recorder) LogError(ctx context.Context, kind, message, requestID string, detail any) (int64, error) {
	data, err := marshalDetail(detail)
	if err != nil {
		return 0, err
	}

	var id int64
	row := r.db.QueryRowxContext(ctx,
		`INSERT INTO error_logs (kind, message, request_id, context) VALUES ($1, $2, $3, $4) RETURNING id`,
		kind, message, requestID, data)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to write error log: %w", err)
	}

	r.logger.Warn("Error entry recorded",
		slog.Int64("id", id),
		slog.String("kind", kind),
		slog.String("request_id", requestID))
	return id, nil
}

func (r *Recorder) LogRequest(ctx context.Context, rec RequestRecord) (int64, error) {
	var id int64
	row := r.db.QueryRowxContext(ctx,
		`INSERT INTO request_logs (request_id, admin_id, method, path, outcome)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		rec.RequestID, rec.AdminID, rec.Method, rec.Path, rec.Outcome)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to write request log: %w", err)
	}
	return id, nil
}

func marshalDetail(detail any) ([]byte, error) {
	if detail == nil {
		return nil, nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal log detail: %w", err)
	}
	return data, nil
}
