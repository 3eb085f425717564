package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/campuskit/broadcast/internal/kafka"
	"github.com/campuskit/broadcast/internal/model"
)

// QueueRequest asks for deferred email delivery of one broadcast. The
// broadcast row is not persisted yet when this runs, so the request is
// correlated by request id and content hash rather than a row id.
type QueueRequest struct {
	Recipients  []Recipient
	Title       string
	Content     string
	Priority    model.Priority
	RequestID   string
	ContentHash string
	AdminID     int64
}

// Queue enqueues email delivery for later flushing. A nil error means the
// request was durably accepted locally; actual delivery happens on flush.
type Queue interface {
	QueueBroadcastEmail(ctx context.Context, req QueueRequest) error
}

type eventQueue struct {
	producer kafka.EventProducer
	logger   *slog.Logger
}

// NewQueue returns a Queue that announces the enqueue on the lifecycle event
// stream. With a noop producer the enqueue always succeeds locally; the
// durable queue state is the broadcast row itself.
func NewQueue(producer kafka.EventProducer, logger *slog.Logger) Queue {
	return &eventQueue{
		producer: producer,
		logger:   logger.With("layer", "email", "component", "queue"),
	}
}

func (q *eventQueue) QueueBroadcastEmail(ctx context.Context, req QueueRequest) error {
	if len(req.Recipients) == 0 {
		return fmt.Errorf("no deliverable recipients to queue")
	}

	err := q.producer.Publish(ctx, kafka.Event{
		Type:        kafka.EventEmailQueued,
		RequestID:   req.RequestID,
		ContentHash: req.ContentHash,
		Priority:    string(req.Priority),
		Recipients:  len(req.Recipients),
	})
	if err != nil {
		return fmt.Errorf("failed to queue broadcast email: %w", err)
	}

	q.logger.Info("Broadcast email queued",
		slog.String("request_id", req.RequestID),
		slog.Int("recipients", len(req.Recipients)),
		slog.String("priority", string(req.Priority)))
	return nil
}
