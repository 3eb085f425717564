// Package kafka publishes broadcast lifecycle events to a Kafka topic via a
// sarama async producer. Events are fire-and-forget: delivery failures are
// logged by the error drain, not surfaced to the request path.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/campuskit/broadcast/internal/tracing"
)

// Lifecycle event types.
const (
	EventBroadcastCreated = "broadcast.created"
	EventEmailQueued      = "broadcast.email_queued"
	EventEmailFlushed     = "broadcast.email_flushed"
)

// Event is one lifecycle record on the events topic.
type Event struct {
	Type        string    `json:"type"`
	BroadcastID int64     `json:"broadcast_id,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Scope       string    `json:"scope,omitempty"`
	Recipients  int       `json:"recipients,omitempty"`
	EmailStatus string    `json:"email_status,omitempty"`
	At          time.Time `json:"at"`
}

// EventProducer defines the interface for publishing lifecycle events.
type EventProducer interface {
	Start(ctx context.Context)
	Publish(ctx context.Context, ev Event) error
	Close(ctx context.Context)
}

type producer struct {
	asyncProducer sarama.AsyncProducer
	topic         string
	log           *slog.Logger
	wg            *sync.WaitGroup
	closeOnce     sync.Once
}

// NewEventProducer uses DI to inject the AsyncProducer, topic, logger and
// WaitGroup.
func NewEventProducer(asyncProducer sarama.AsyncProducer, topic string, log *slog.Logger, wg *sync.WaitGroup) EventProducer {
	if asyncProducer == nil || log == nil || wg == nil {
		panic("NewEventProducer: nil dependencies provided")
	}
	if topic == "" {
		panic("NewEventProducer: topic must not be empty")
	}
	return &producer{
		asyncProducer: asyncProducer,
		topic:         topic,
		log:           log,
		wg:            wg,
	}
}

// Start launches background handlers for success and error channels.
func (p *producer) Start(ctx context.Context) {
	p.log.Info("Starting Kafka event producer handlers")
	p.wg.Add(2)
	go p.handleSuccess(ctx)
	go p.handleErrors(ctx)
}

func (p *producer) handleSuccess(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case msg, ok := <-p.asyncProducer.Successes():
			if !ok {
				p.log.Info("Kafka successes channel closed")
				return
			}
			key, _ := msg.Key.Encode()
			p.log.Info("Event delivered",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("key", string(key)))
		case <-ctx.Done():
			p.log.Info("Kafka success handler stopped by context")
			return
		}
	}
}

func (p *producer) handleErrors(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case err, ok := <-p.asyncProducer.Errors():
			if !ok {
				p.log.Info("Kafka errors channel closed")
				return
			}
			p.log.Error("Event delivery failed",
				slog.String("topic", err.Msg.Topic),
				slog.Any("error", err.Err))
		case <-ctx.Done():
			p.log.Info("Kafka error handler stopped by context")
			return
		}
	}
}

// Publish queues one event to the topic, keyed by broadcast id so events for
// the same broadcast stay ordered within a partition.
func (p *producer) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("Failed to marshal event",
			slog.String("type", ev.Type),
			slog.Any("error", err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := strconv.FormatInt(ev.BroadcastID, 10)
	if ev.BroadcastID == 0 {
		key = ev.RequestID
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(data),
		Headers:   tracing.KafkaHeaders(ctx),
		Timestamp: time.Now(),
	}

	select {
	case p.asyncProducer.Input() <- msg:
		p.log.Info("Event queued to Kafka",
			slog.String("topic", p.topic),
			slog.String("type", ev.Type),
			slog.String("key", key))
		return nil
	case <-ctx.Done():
		p.log.Warn("Publish cancelled by context", slog.String("type", ev.Type))
		return ctx.Err()
	}
}

// Close shuts down the producer and waits for the drain goroutines.
func (p *producer) Close(_ context.Context) {
	p.closeOnce.Do(func() {
		p.log.Info("Closing Kafka event producer...")
		p.asyncProducer.AsyncClose()
		p.wg.Wait()
		p.log.Info("Kafka event producer closed")
	})
}

type noopProducer struct {
	log *slog.Logger
}

// NewNoopProducer returns a producer that drops every event. Used when no
// brokers are configured.
func NewNoopProducer(log *slog.Logger) EventProducer {
	return &noopProducer{log: log}
}

func (p *noopProducer) Start(context.Context) {
	p.log.Info("Kafka disabled, lifecycle events will be dropped")
}

func (p *noopProducer) Publish(_ context.Context, ev Event) error {
	p.log.Debug("Dropping event, Kafka disabled", slog.String("type", ev.Type))
	return nil
}

func (p *noopProducer) Close(context.Context) {}
