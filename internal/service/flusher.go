package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campuskit/broadcast/internal/audit"
	"github.com/campuskit/broadcast/internal/email"
	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/kafka"
	"github.com/campuskit/broadcast/internal/metrics"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/storage"
	"github.com/campuskit/broadcast/internal/tracing"
)

// QueueFlusher advances queued and partial email deliveries toward a settled
// state.
//
// force=false is reconciliation mode: the row is marked sent, partial or
// skipped purely from current email-address availability, without ever
// invoking the send collaborator. force=true actually sends, and is also the
// only way to retry a partial or failed row.
//
// There is no lock around a row while it is flushed: concurrent flushes are
// last-writer-wins. The engine is built for a single admin action or a single
// periodic trigger, not for competing workers.
type QueueFlusher interface {
	Flush(ctx context.Context, limit int, force bool, trigger string) (*model.FlushReport, error)
}

type queueFlusher struct {
	store    storage.BroadcastStorage
	users    storage.UserStorage
	messages storage.MessageStorage
	sender   email.Sender
	errLog   audit.ErrorLogger
	events   kafka.EventProducer
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewQueueFlusher(
	store storage.BroadcastStorage,
	users storage.UserStorage,
	messages storage.MessageStorage,
	sender email.Sender,
	errLog audit.ErrorLogger,
	events kafka.EventProducer,
	logger *slog.Logger,
) QueueFlusher {
	l := logger.With("layer", "service", "component", "queueFlusher")
	return &queueFlusher{
		store:    store,
		users:    users,
		messages: messages,
		sender:   sender,
		errLog:   errLog,
		events:   events,
		logger:   l,
		tracer:   tracing.Tracer("broadcast-service"),
	}
}

func (f *queueFlusher) Flush(ctx context.Context, limit int, force bool, trigger string) (*model.FlushReport, error) {
	ctx, span := f.tracer.Start(ctx, "Flush")
	defer span.End()

	limit = model.ClampFlushLimit(limit)
	span.SetAttributes(
		attribute.Int("flush.limit", limit),
		attribute.Bool("flush.force", force),
		attribute.String("flush.trigger", trigger),
	)
	metrics.FlushRuns.WithLabelValues(trigger, strconv.FormatBool(force)).Inc()

	statuses := []model.EmailStatus{model.EmailQueued, model.EmailPartial}
	if force {
		statuses = append(statuses, model.EmailFailed)
	}

	candidates, err := f.store.FindFlushCandidates(ctx, statuses, limit)
	if err != nil {
		f.logger.Error("Failed to select flush candidates", slog.Any("error", err))
		tracing.RecordError(span, err)
		return nil, appErr.NewInternal("select flush candidates: %v", err)
	}

	report := &model.FlushReport{
		Success:   true,
		Processed: []model.FlushOutcome{},
		Skipped:   []int64{},
	}

	f.logger.Info("Flush started",
		slog.Int("candidates", len(candidates)),
		slog.Bool("force", force),
		slog.String("trigger", trigger))

	for i := range candidates {
		b := &candidates[i]
		if !flushable(b.Email.Status, force) {
			report.Skipped = append(report.Skipped, b.ID)
			continue
		}
		report.Processed = append(report.Processed, f.processCandidate(ctx, b, force))
	}
	report.Count = len(report.Processed)

	f.logger.Info("Flush finished",
		slog.Int("processed", report.Count),
		slog.Int("skipped", len(report.Skipped)))
	return report, nil
}

// flushable applies step 1 of the flush pass: queued and partial rows are
// always eligible, failed rows only under force, and skipped or sent rows are
// never reprocessed.
func flushable(status model.EmailStatus, force bool) bool {
	switch status {
	case model.EmailQueued, model.EmailPartial:
		return true
	case model.EmailFailed:
		return force
	}
	return false
}

func (f *queueFlusher) processCandidate(ctx context.Context, b *model.Broadcast, force bool) model.FlushOutcome {
	ctx, span := f.tracer.Start(ctx, "FlushCandidate")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("broadcast.id", b.ID),
		attribute.String("email.status", string(b.Email.Status)),
	)

	outcome := model.FlushOutcome{
		ID:                  b.ID,
		Status:              b.Email.Status,
		Attempted:           b.Email.AttemptedRecipients,
		Force:               force,
		MissingEmailUserIDs: append([]int64{}, b.Email.MissingEmailUserIDs...),
		Errors:              append([]string{}, b.Email.Errors...),
	}

	recipientIDs, err := reconcileRecipientIDs(ctx, f.messages, b)
	if err != nil {
		return f.failCandidate(ctx, span, b, outcome, "broadcast.flush_reresolve_failed", err)
	}

	recipients, err := f.users.FindActiveByIDs(ctx, recipientIDs)
	if err != nil {
		return f.failCandidate(ctx, span, b, outcome, "broadcast.flush_lookup_failed", err)
	}

	deliverable, deliverableIDs, missing := partitionDeliverable(recipients)

	state := b.Email
	state.AttemptedRecipients = len(deliverable)
	state.MissingEmailUserIDs = missing

	switch {
	case len(deliverable) == 0:
		// Nothing can ever be emailed for this row.
		state.Status = model.EmailSkipped

	case force:
		sendReport, sendErr := f.sender.SendAnnouncementBroadcast(ctx, deliverable, b.Title, b.Content, b.Priority)
		state.SuccessfulChunks = sendReport.SuccessfulChunks
		state.FailedChunks = sendReport.FailedChunks
		for _, msg := range sendReport.Errors {
			state.AddError(msg)
		}

		if sendErr != nil {
			state.Status = model.EmailFailed
			state.FailedRecipientIDs = mergeIDs(state.FailedRecipientIDs, deliverableIDs)
			state.AddError(sendErr.Error())
			tracing.RecordError(span, sendErr)
			f.logger.Error("Forced send failed",
				slog.Int64("broadcast_id", b.ID),
				slog.Any("error", sendErr))
			if _, logErr := f.errLog.LogError(ctx, "broadcast.email_send_failed", sendErr.Error(), b.RequestID,
				map[string]any{"broadcast_id": b.ID, "attempted": len(deliverable)}); logErr != nil {
				f.logger.Error("Failed to record send error", slog.Any("error", logErr))
			}
		} else if state.FailedChunks > 0 || len(missing) > 0 {
			state.Status = model.EmailPartial
		} else {
			state.Status = model.EmailSent
			state.FailedRecipientIDs = nil
		}

	default:
		// Reconciliation mode: settle from address availability alone, the
		// send collaborator is never called.
		if len(missing) > 0 {
			state.Status = model.EmailPartial
		} else {
			state.Status = model.EmailSent
			state.FailedChunks = 0
			state.FailedRecipientIDs = nil
		}
	}

	now := time.Now()
	state.CompletedAt = &now
	state.Truncate()

	var persistErr error
	if persistErr = f.store.UpdateEmailState(ctx, b.ID, state); persistErr != nil {
		tracing.RecordError(span, persistErr)
		f.logger.Error("Failed to persist flushed email state",
			slog.Int64("broadcast_id", b.ID),
			slog.Any("error", persistErr))
		if _, logErr := f.errLog.LogError(ctx, "broadcast.flush_persist_failed", persistErr.Error(), b.RequestID,
			map[string]any{"broadcast_id": b.ID}); logErr != nil {
			f.logger.Error("Failed to record persist error", slog.Any("error", logErr))
		}
	}

	metrics.EmailStateTransitions.WithLabelValues(string(state.Status)).Inc()
	f.publishFlushed(ctx, b, state)

	b.Email = state
	outcome.Status = state.Status
	outcome.Attempted = state.AttemptedRecipients
	outcome.MissingEmailUserIDs = state.MissingEmailUserIDs
	outcome.Errors = append([]string{}, state.Errors...)
	if persistErr != nil {
		outcome.Errors = append(outcome.Errors, persistErr.Error())
	}

	span.SetAttributes(attribute.String("email.new_status", string(state.Status)))
	f.logger.Info("Flush candidate settled",
		slog.Int64("broadcast_id", b.ID),
		slog.String("status", string(state.Status)),
		slog.Int("attempted", state.AttemptedRecipients),
		slog.Int("missing", len(state.MissingEmailUserIDs)),
		slog.Bool("force", force))
	return outcome
}

// failCandidate reports a candidate whose flush pass errored before any state
// change; the row keeps its prior status and the batch moves on.
func (f *queueFlusher) failCandidate(ctx context.Context, span trace.Span, b *model.Broadcast, outcome model.FlushOutcome, kind string, err error) model.FlushOutcome {
	tracing.RecordError(span, err)
	f.logger.Error("Flush candidate failed",
		slog.Int64("broadcast_id", b.ID),
		slog.String("kind", kind),
		slog.Any("error", err))

	if _, logErr := f.errLog.LogError(ctx, kind, err.Error(), b.RequestID,
		map[string]any{"broadcast_id": b.ID}); logErr != nil {
		f.logger.Error("Failed to record flush error", slog.Any("error", logErr))
	}

	outcome.Errors = append(outcome.Errors, err.Error())
	return outcome
}

func (f *queueFlusher) publishFlushed(ctx context.Context, b *model.Broadcast, state model.EmailDeliveryState) {
	err := f.events.Publish(ctx, kafka.Event{
		Type:        kafka.EventEmailFlushed,
		BroadcastID: b.ID,
		RequestID:   b.RequestID,
		ContentHash: b.ContentHash,
		Priority:    string(b.Priority),
		Recipients:  state.AttemptedRecipients,
		EmailStatus: string(state.Status),
	})
	if err != nil {
		f.logger.Warn("Failed to publish flush event",
			slog.Int64("broadcast_id", b.ID),
			slog.Any("error", err))
	}
}
