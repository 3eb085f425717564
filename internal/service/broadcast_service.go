package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campuskit/broadcast/internal/audit"
	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/kafka"
	"github.com/campuskit/broadcast/internal/metrics"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/storage"
	"github.com/campuskit/broadcast/internal/tracing"
)

const maxTitleLength = 255

// BroadcastService is the admin-facing facade over the broadcast engine:
// sending, flushing and history reads.
type BroadcastService interface {
	Send(ctx context.Context, admin *model.User, requestID string, req *model.SendBroadcastRequest) (*model.SendBroadcastResponse, error)
	Flush(ctx context.Context, limit int, force bool, trigger string) (*model.FlushReport, error)
	History(ctx context.Context, page, limit int) (*model.HistoryPage, error)
	Get(ctx context.Context, id int64) (*model.BroadcastSummary, error)
}

type broadcastService struct {
	resolver   RecipientResolver
	dispatcher MessageDispatcher
	planner    EmailPlanner
	flusher    QueueFlusher
	history    HistoryReporter
	store      storage.BroadcastStorage
	auditLog   audit.AuditLogger
	requestLog audit.RequestLogger
	errLog     audit.ErrorLogger
	events     kafka.EventProducer
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewBroadcastService(
	resolver RecipientResolver,
	dispatcher MessageDispatcher,
	planner EmailPlanner,
	flusher QueueFlusher,
	history HistoryReporter,
	store storage.BroadcastStorage,
	auditLog audit.AuditLogger,
	requestLog audit.RequestLogger,
	errLog audit.ErrorLogger,
	events kafka.EventProducer,
	logger *slog.Logger,
) BroadcastService {
	l := logger.With("layer", "service", "component", "broadcastService")
	return &broadcastService{
		resolver:   resolver,
		dispatcher: dispatcher,
		planner:    planner,
		flusher:    flusher,
		history:    history,
		store:      store,
		auditLog:   auditLog,
		requestLog: requestLog,
		errLog:     errLog,
		events:     events,
		logger:     l,
		tracer:     tracing.Tracer("broadcast-service"),
	}
}

// Send runs one broadcast attempt to completion: resolve, fan out, plan email
// escalation, persist the attempt row. Email delivery is best-effort; once
// the in-app fan-out ran, infrastructure failures no longer fail the request.
func (s *broadcastService) Send(ctx context.Context, admin *model.User, requestID string, req *model.SendBroadcastRequest) (*model.SendBroadcastResponse, error) {
	ctx, span := s.tracer.Start(ctx, "SendBroadcast")
	defer span.End()
	span.SetAttributes(attribute.String("broadcast.request_id", requestID))

	title, content, err := validateSendRequest(req)
	if err != nil {
		s.logger.Warn("Broadcast rejected by validation",
			slog.String("request_id", requestID),
			slog.Any("error", err))
		return nil, err
	}
	priority := model.ParsePriority(req.Priority)

	criteria := &model.TargetCriteria{
		TargetUsers: req.TargetUsers,
		Filters:     req.TargetFilters,
	}
	resolution, err := s.resolver.Resolve(ctx, criteria)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if len(resolution.Recipients) == 0 {
		s.logger.Warn("Broadcast matched no recipients",
			slog.String("request_id", requestID),
			slog.Int("invalid", len(resolution.InvalidIDs)))
		return nil, appErr.NewNotFound("no recipients matched the targeting criteria")
	}

	s.logger.Info("Broadcast send started",
		slog.String("request_id", requestID),
		slog.Int64("admin_id", admin.ID),
		slog.String("scope", string(resolution.Scope)),
		slog.String("priority", string(priority)),
		slog.Int("targets", len(resolution.Recipients)))
	metrics.BroadcastsSent.WithLabelValues(string(resolution.Scope), string(priority)).Inc()

	b := &model.Broadcast{
		AdminID:     admin.ID,
		Title:       title,
		Content:     content,
		Priority:    priority,
		Scope:       resolution.Scope,
		TargetCount: len(resolution.Recipients),
		InvalidIDs:  resolution.InvalidIDs,
		ContentHash: model.ContentHash(title, content),
		RequestID:   requestID,
	}
	if resolution.Scope == model.ScopeCustom {
		b.Criteria = criteria
	}

	dispatched := s.dispatcher.Dispatch(ctx, resolution.Recipients, title, content, priority, requestID)
	b.SentCount = dispatched.SentCount
	b.FailedUserIDs = dispatched.FailedUserIDs
	b.ErrorLogIDs = dispatched.ErrorLogIDs

	planLogIDs := s.planner.Plan(ctx, b, resolution.Recipients)
	b.ErrorLogIDs = append(b.ErrorLogIDs, planLogIDs...)

	s.recordAuditTrail(ctx, admin, b)
	s.snapshot(b, dispatched)

	resp := &model.SendBroadcastResponse{
		Success:        true,
		SentCount:      b.SentCount,
		TotalTargets:   b.TargetCount,
		FailedUserIDs:  b.FailedUserIDs,
		InvalidUserIDs: b.InvalidIDs,
		Scope:          b.Scope,
		MessageIDs:     b.MessageIDsSnapshot,
		MessageIDCount: len(dispatched.MessageIDs),
		EmailDelivery:  b.Email,
		ErrorLogIDs:    b.ErrorLogIDs,
		RequestID:      requestID,
	}

	// Recipients are already notified: a persistence failure is caught and
	// logged, never propagated into the response.
	if err := s.store.Save(ctx, b); err != nil {
		tracing.RecordError(span, err)
		s.logger.Error("Failed to persist broadcast row",
			slog.String("request_id", requestID),
			slog.Any("error", err))
		if logID, logErr := s.errLog.LogError(ctx, "broadcast.persist_failed", err.Error(), requestID,
			map[string]any{"sent_count": b.SentCount, "target_count": b.TargetCount}); logErr == nil {
			resp.ErrorLogIDs = append(resp.ErrorLogIDs, logID)
		} else {
			s.logger.Error("Failed to record persistence error", slog.Any("error", logErr))
		}
	} else {
		resp.BroadcastID = b.ID
		s.publishCreated(ctx, b)
	}

	span.SetAttributes(
		attribute.Int("broadcast.sent", b.SentCount),
		attribute.Int("broadcast.targets", b.TargetCount),
		attribute.String("email.status", string(b.Email.Status)),
	)
	s.logger.Info("Broadcast send finished",
		slog.String("request_id", requestID),
		slog.Int64("broadcast_id", b.ID),
		slog.Int("sent", b.SentCount),
		slog.Int("failed", len(b.FailedUserIDs)),
		slog.String("email_status", string(b.Email.Status)))
	return resp, nil
}

func (s *broadcastService) Flush(ctx context.Context, limit int, force bool, trigger string) (*model.FlushReport, error) {
	return s.flusher.Flush(ctx, limit, force, trigger)
}

func (s *broadcastService) History(ctx context.Context, page, limit int) (*model.HistoryPage, error) {
	return s.history.History(ctx, page, limit)
}

func (s *broadcastService) Get(ctx context.Context, id int64) (*model.BroadcastSummary, error) {
	return s.history.Get(ctx, id)
}

// validateSendRequest applies the pre-side-effect checks: title, content and
// filter shapes. Priority is deliberately lenient and coerces to normal.
func validateSendRequest(req *model.SendBroadcastRequest) (title, content string, err error) {
	title = strings.TrimSpace(req.Title)
	if title == "" {
		return "", "", appErr.NewValidation("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", "", appErr.NewValidation("title exceeds %d characters", maxTitleLength)
	}
	content = strings.TrimSpace(req.Content)
	if content == "" {
		return "", "", appErr.NewValidation("content is required")
	}
	for i, f := range req.TargetFilters {
		for _, field := range f.Fields {
			if !model.FilterFieldKnown(field) {
				return "", "", appErr.NewValidation("target_filters[%d]: unknown field %q", i, field)
			}
		}
	}
	return title, content, nil
}

// recordAuditTrail writes the audit-log and request-log rows and links their
// ids onto the broadcast. Both writes are log-only: failures never abort the
// send.
func (s *broadcastService) recordAuditTrail(ctx context.Context, admin *model.User, b *model.Broadcast) {
	auditID, err := s.auditLog.Log(ctx, admin.ID, "broadcast.send", map[string]any{
		"title":        b.Title,
		"scope":        b.Scope,
		"priority":     b.Priority,
		"target_count": b.TargetCount,
		"sent_count":   b.SentCount,
		"request_id":   b.RequestID,
	})
	if err != nil {
		s.logger.Error("Failed to write audit log", slog.Any("error", err))
	} else {
		b.AuditLogID = &auditID
	}

	outcome := "sent"
	if len(b.FailedUserIDs) > 0 {
		outcome = "partial"
	}
	reqID, err := s.requestLog.LogRequest(ctx, audit.RequestRecord{
		RequestID: b.RequestID,
		AdminID:   admin.ID,
		Method:    "POST",
		Path:      "/broadcast",
		Outcome:   outcome,
	})
	if err != nil {
		s.logger.Error("Failed to write request log", slog.Any("error", err))
	} else {
		b.RequestLogID = &reqID
	}
}

// snapshot caps every audit collection on the row so its size is bounded
// regardless of how many recipients the broadcast targeted.
func (s *broadcastService) snapshot(b *model.Broadcast, dispatched *DispatchResult) {
	b.MessageIDsSnapshot, b.MessageIDsTruncated = model.CapInt64s(dispatched.MessageIDs, model.SnapshotIDCap)
	b.MessageIDMapSnapshot, b.MessageIDMapTruncated = model.CapIDMap(dispatched.IDMap, model.SnapshotIDCap)
	b.InvalidIDs, b.InvalidIDsTruncated = model.CapInt64s(b.InvalidIDs, model.SnapshotIDCap)
	b.FailedUserIDs, b.FailedUserIDsTruncated = model.CapInt64s(b.FailedUserIDs, model.SnapshotErrorCap)
	b.ErrorLogIDs, _ = model.CapInt64s(b.ErrorLogIDs, model.SnapshotErrorCap)
	b.Email.Truncate()

	if b.MessageIDsSnapshot == nil {
		b.MessageIDsSnapshot = []int64{}
	}
	if b.InvalidIDs == nil {
		b.InvalidIDs = []int64{}
	}
	if b.FailedUserIDs == nil {
		b.FailedUserIDs = []int64{}
	}
	if b.ErrorLogIDs == nil {
		b.ErrorLogIDs = []int64{}
	}
}

func (s *broadcastService) publishCreated(ctx context.Context, b *model.Broadcast) {
	err := s.events.Publish(ctx, kafka.Event{
		Type:        kafka.EventBroadcastCreated,
		BroadcastID: b.ID,
		RequestID:   b.RequestID,
		ContentHash: b.ContentHash,
		Priority:    string(b.Priority),
		Scope:       string(b.Scope),
		Recipients:  b.TargetCount,
	})
	if err != nil {
		s.logger.Warn("Failed to publish created event",
			slog.Int64("broadcast_id", b.ID),
			slog.Any("error", err))
	}
}
