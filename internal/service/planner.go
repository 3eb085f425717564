package service

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campuskit/broadcast/internal/audit"
	"github.com/campuskit/broadcast/internal/email"
	"github.com/campuskit/broadcast/internal/metrics"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/tracing"
)

// EmailPlanner decides whether a broadcast escalates to email and records the
// initial delivery state on the broadcast.
type EmailPlanner interface {
	// Plan writes the resulting EmailDeliveryState onto b and returns the ids
	// of any error-log rows it produced.
	Plan(ctx context.Context, b *model.Broadcast, recipients []model.User) []int64
}

type emailPlanner struct {
	queue  email.Queue
	errLog audit.ErrorLogger
	logger *slog.Logger
	tracer trace.Tracer
}

func NewEmailPlanner(queue email.Queue, errLog audit.ErrorLogger, logger *slog.Logger) EmailPlanner {
	l := logger.With("layer", "service", "component", "emailPlanner")
	return &emailPlanner{
		queue:  queue,
		errLog: errLog,
		logger: l,
		tracer: tracing.Tracer("broadcast-service"),
	}
}

func (p *emailPlanner) Plan(ctx context.Context, b *model.Broadcast, recipients []model.User) []int64 {
	ctx, span := p.tracer.Start(ctx, "PlanEmail")
	defer span.End()

	state := model.NewEmailDeliveryState()
	defer func() {
		b.Email = state
		span.SetAttributes(attribute.String("email.status", string(state.Status)))
		metrics.EmailStateTransitions.WithLabelValues(string(state.Status)).Inc()
	}()

	if !b.Priority.QualifiesForEmail() {
		p.logger.Info("Email escalation skipped by priority",
			slog.String("priority", string(b.Priority)),
			slog.String("request_id", b.RequestID))
		return nil
	}

	deliverable, _, missing := partitionDeliverable(recipients)
	state.MissingEmailUserIDs = missing

	if len(deliverable) == 0 {
		p.logger.Info("Email escalation skipped, no deliverable recipients",
			slog.Int("missing", len(missing)),
			slog.String("request_id", b.RequestID))
		return nil
	}

	state.Triggered = true
	state.AttemptedRecipients = len(deliverable)

	err := p.queue.QueueBroadcastEmail(ctx, email.QueueRequest{
		Recipients:  deliverable,
		Title:       b.Title,
		Content:     b.Content,
		Priority:    b.Priority,
		RequestID:   b.RequestID,
		ContentHash: b.ContentHash,
		AdminID:     b.AdminID,
	})
	if err != nil {
		state.Status = model.EmailFailed
		state.AddError(err.Error())
		tracing.RecordError(span, err)
		p.logger.Error("Email queueing failed",
			slog.String("request_id", b.RequestID),
			slog.Any("error", err))

		logID, logErr := p.errLog.LogError(ctx, "broadcast.email_queue_failed", err.Error(), b.RequestID,
			map[string]any{"recipients": len(deliverable)})
		if logErr != nil {
			p.logger.Error("Failed to record queueing error", slog.Any("error", logErr))
			return nil
		}
		return []int64{logID}
	}

	state.Status = model.EmailQueued
	p.logger.Info("Email delivery queued",
		slog.Int("deliverable", len(deliverable)),
		slog.Int("missing", len(missing)),
		slog.String("request_id", b.RequestID))
	return nil
}

// partitionDeliverable splits recipients into email targets and the ids with
// no usable address. Display names fall back to the address itself.
func partitionDeliverable(recipients []model.User) (deliverable []email.Recipient, ids []int64, missing []int64) {
	for _, u := range recipients {
		addr := strings.TrimSpace(u.Email)
		if addr == "" {
			missing = append(missing, u.ID)
			continue
		}
		name := strings.TrimSpace(u.DisplayName())
		if name == "" {
			name = addr
		}
		deliverable = append(deliverable, email.Recipient{Email: addr, Name: name})
		ids = append(ids, u.ID)
	}
	return deliverable, ids, missing
}
