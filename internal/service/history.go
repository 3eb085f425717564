package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/storage"
	"github.com/campuskit/broadcast/internal/tracing"
)

// HistoryReporter is the read-only projection joining stored broadcasts to
// their messages for read/unread reporting. It reuses the snapshot-then-hash
// recipient recovery and never mutates delivery state.
type HistoryReporter interface {
	History(ctx context.Context, page, limit int) (*model.HistoryPage, error)
	Get(ctx context.Context, id int64) (*model.BroadcastSummary, error)
}

type historyReporter struct {
	store    storage.BroadcastStorage
	messages storage.MessageStorage
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewHistoryReporter(store storage.BroadcastStorage, messages storage.MessageStorage, logger *slog.Logger) HistoryReporter {
	l := logger.With("layer", "service", "component", "historyReporter")
	return &historyReporter{
		store:    store,
		messages: messages,
		logger:   l,
		tracer:   tracing.Tracer("broadcast-service"),
	}
}

func (h *historyReporter) History(ctx context.Context, page, limit int) (*model.HistoryPage, error) {
	ctx, span := h.tracer.Start(ctx, "History")
	defer span.End()

	if page < 1 {
		page = 1
	}
	limit = model.ClampHistoryLimit(limit)
	offset := (page - 1) * limit

	broadcasts, total, err := h.store.List(ctx, offset, limit)
	if err != nil {
		h.logger.Error("Failed to list broadcasts", slog.Any("error", err))
		tracing.RecordError(span, err)
		return nil, appErr.NewInternal("list broadcasts: %v", err)
	}

	out := &model.HistoryPage{
		Success:    true,
		Page:       page,
		Limit:      limit,
		Total:      total,
		Broadcasts: make([]model.BroadcastSummary, 0, len(broadcasts)),
	}
	for i := range broadcasts {
		out.Broadcasts = append(out.Broadcasts, h.summarize(ctx, &broadcasts[i], false))
	}

	span.SetAttributes(
		attribute.Int("history.page", page),
		attribute.Int("history.rows", len(out.Broadcasts)),
	)
	h.logger.Info("History page built",
		slog.Int("page", page),
		slog.Int("rows", len(out.Broadcasts)),
		slog.Int64("total", total))
	return out, nil
}

func (h *historyReporter) Get(ctx context.Context, id int64) (*model.BroadcastSummary, error) {
	ctx, span := h.tracer.Start(ctx, "GetBroadcast")
	defer span.End()
	span.SetAttributes(attribute.Int64("broadcast.id", id))

	b, err := h.store.FindByID(ctx, id)
	if err != nil {
		if appErr.IsNotFound(err) {
			h.logger.Warn("Broadcast not found", slog.Int64("id", id))
			return nil, appErr.NewNotFound("broadcast %d not found", id)
		}
		h.logger.Error("Failed to load broadcast", slog.Int64("id", id), slog.Any("error", err))
		tracing.RecordError(span, err)
		return nil, appErr.NewInternal("load broadcast %d: %v", id, err)
	}

	summary := h.summarize(ctx, b, true)
	return &summary, nil
}

// summarize joins one broadcast against its messages' current read flags.
// Reconciliation failures degrade to empty read sets; a reporting read never
// fails the page.
func (h *historyReporter) summarize(ctx context.Context, b *model.Broadcast, detail bool) model.BroadcastSummary {
	summary := model.BroadcastSummary{
		ID:          b.ID,
		CreatedAt:   b.CreatedAt,
		AdminID:     b.AdminID,
		Title:       b.Title,
		Priority:    b.Priority,
		Scope:       b.Scope,
		TargetCount: b.TargetCount,
		SentCount:   b.SentCount,
		EmailStatus: b.Email.Status,
		ReadUsers:   []int64{},
		UnreadUsers: []int64{},
		RequestID:   b.RequestID,
	}
	if detail {
		state := b.Email
		summary.EmailDetail = &state
	}

	msgs, err := reconcileMessages(ctx, h.messages, b)
	if err != nil {
		h.logger.Warn("Message reconciliation failed for history row",
			slog.Int64("broadcast_id", b.ID),
			slog.Any("error", err))
		return summary
	}

	// One user can match more than one message through the hash fallback;
	// any read message marks the user read.
	read := make(map[int64]bool, len(msgs))
	order := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		if _, seen := read[m.ReceiverID]; !seen {
			order = append(order, m.ReceiverID)
		}
		read[m.ReceiverID] = read[m.ReceiverID] || m.IsRead
	}
	for _, userID := range order {
		if read[userID] {
			summary.ReadUsers = append(summary.ReadUsers, userID)
		} else {
			summary.UnreadUsers = append(summary.UnreadUsers, userID)
		}
	}
	summary.ReadCount = len(summary.ReadUsers)
	summary.UnreadCount = len(summary.UnreadUsers)
	return summary
}
