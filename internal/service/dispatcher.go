package service

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/campuskit/broadcast/internal/audit"
	"github.com/campuskit/broadcast/internal/messaging"
	"github.com/campuskit/broadcast/internal/metrics"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/tracing"
)

// DispatchResult reports one fan-out pass. SentCount plus the failed ids
// always covers every recipient handed in.
type DispatchResult struct {
	SentCount     int
	MessageIDs    []int64
	IDMap         map[int64]int64
	FailedUserIDs []int64
	ErrorLogIDs   []int64
}

// MessageDispatcher creates one in-app message per recipient. Failures are
// per-recipient data, never an aborted batch, so Dispatch has no error
// return.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, recipients []model.User, title, content string, priority model.Priority, requestID string) *DispatchResult
}

type messageDispatcher struct {
	messenger messaging.Messenger
	errLog    audit.ErrorLogger
	workers   int
	limiter   *rate.Limiter
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewMessageDispatcher builds the fan-out dispatcher. ratePerSec zero
// disables the message-insert rate cap.
func NewMessageDispatcher(messenger messaging.Messenger, errLog audit.ErrorLogger, workers int, ratePerSec float64, logger *slog.Logger) MessageDispatcher {
	if workers < 1 {
		workers = 1
	}
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1)
	}
	l := logger.With("layer", "service", "component", "messageDispatcher")
	return &messageDispatcher{
		messenger: messenger,
		errLog:    errLog,
		workers:   workers,
		limiter:   limiter,
		logger:    l,
		tracer:    tracing.Tracer("broadcast-service"),
	}
}

// Dispatch fans the message out with bounded concurrency. Message rows are
// independent, so recipients are safely processed in parallel; there is no
// transaction spanning the batch.
func (d *messageDispatcher) Dispatch(ctx context.Context, recipients []model.User, title, content string, priority model.Priority, requestID string) *DispatchResult {
	ctx, span := d.tracer.Start(ctx, "Dispatch")
	defer span.End()

	res := &DispatchResult{IDMap: make(map[int64]int64, len(recipients))}
	if len(recipients) == 0 {
		return res
	}

	d.logger.Info("Dispatch started",
		slog.Int("recipients", len(recipients)),
		slog.String("request_id", requestID))

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, d.workers)

	for _, recipient := range recipients {
		recipient := recipient
		sem <- struct{}{}
		eg.Go(func() error {
			defer func() { <-sem }()
			if d.limiter != nil {
				if err := d.limiter.Wait(ctx); err != nil {
					d.recordFailure(ctx, res, &mu, recipient.ID, err, requestID)
					return nil
				}
			}

			msg, err := d.messenger.SendSystemMessage(ctx, recipient.ID, title, content, priority)
			if err != nil {
				d.recordFailure(ctx, res, &mu, recipient.ID, err, requestID)
				return nil
			}

			mu.Lock()
			res.SentCount++
			res.MessageIDs = append(res.MessageIDs, msg.ID)
			res.IDMap[recipient.ID] = msg.ID
			mu.Unlock()
			metrics.MessagesDispatched.WithLabelValues("sent").Inc()
			return nil
		})
	}
	// Workers never return errors; failures are collected per recipient.
	_ = eg.Wait()

	span.SetAttributes(
		attribute.Int("broadcast.sent", res.SentCount),
		attribute.Int("broadcast.failed", len(res.FailedUserIDs)),
	)
	if len(res.FailedUserIDs) > 0 {
		d.logger.Warn("Dispatch finished with failures",
			slog.Int("sent", res.SentCount),
			slog.Int("failed", len(res.FailedUserIDs)),
			slog.String("request_id", requestID))
	} else {
		d.logger.Info("Dispatch finished",
			slog.Int("sent", res.SentCount),
			slog.String("request_id", requestID))
	}
	return res
}

func (d *messageDispatcher) recordFailure(ctx context.Context, res *DispatchResult, mu *sync.Mutex, userID int64, cause error, requestID string) {
	metrics.MessagesDispatched.WithLabelValues("failed").Inc()
	d.logger.Error("System message creation failed",
		slog.Int64("user_id", userID),
		slog.Any("error", cause))

	logID, logErr := d.errLog.LogError(ctx, "broadcast.message_failed", cause.Error(), requestID,
		map[string]any{"user_id": userID})
	if logErr != nil {
		d.logger.Error("Failed to record dispatch error",
			slog.Int64("user_id", userID),
			slog.Any("error", logErr))
	}

	mu.Lock()
	defer mu.Unlock()
	res.FailedUserIDs = append(res.FailedUserIDs, userID)
	if logErr == nil && logID > 0 {
		res.ErrorLogIDs = append(res.ErrorLogIDs, logID)
	}
}
