package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

// InboundHandler is the part of the settlement service the consumer drives.
type InboundHandler interface {
	HandlePaymentConfirmedEvent(ctx context.Context, payload []byte) error
	HandleCancelRequestedEvent(ctx context.Context, payload []byte) error
}

type ConsumerWorker struct {
	logger         *slog.Logger
	consumer       ports.EventConsumer
	handler        InboundHandler
	interval       time.Duration
	maxAttempts    int
	backoff        time.Duration
	topicConfirmed string
	topicCancel    string
	// backlog holds fetched messages from the first transient failure on.
	// They are retried in order before anything new is polled.
	backlog        []ports.InboundMessage
}

func NewConsumerWorker(logger *slog.Logger, consumer ports.EventConsumer, handler InboundHandler, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{
		logger: logger, consumer: consumer, handler: handler, interval: interval,
		maxAttempts: 3, backoff: 500 * time.Millisecond,
		topicConfirmed: domain.EventPaymentConfirmed,
		topicCancel:    domain.EventOrderCancelRequested,
	}
}

// WithTopics overrides the topic names routed to each handler. Empty names keep the default.
func (w *ConsumerWorker) WithTopics(paymentConfirmed, cancelRequested string) *ConsumerWorker {
	if paymentConfirmed != "" {
		w.topicConfirmed = paymentConfirmed
	}
	if cancelRequested != "" {
		w.topicCancel = cancelRequested
	}
	return w
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *ConsumerWorker) processOnce(ctx context.Context) error {
	msgs := w.backlog
	w.backlog = nil
	if len(msgs) == 0 {
		polled, err := w.consumer.Poll(ctx, 50)
		if err != nil {
			return err
		}
		msgs = polled
	}
	for i, msg := range msgs {
		if err := w.dispatchWithRetry(ctx, msg); err != nil {
			// Committing a later offset would move the group past this one.
			w.backlog = msgs[i:]
			w.logger.ErrorContext(ctx, "inbound event not handled",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "dispatch",
				"outcome", "retry_exhausted",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"held", len(w.backlog),
				"error", err,
			)
			return fmt.Errorf("offset %d held for retry: %w", msg.Offset, err)
		}
		if err := w.consumer.Commit(ctx, msg); err != nil {
			w.backlog = msgs[i+1:]
			return err
		}
	}
	return nil
}

func (w *ConsumerWorker) dispatchWithRetry(ctx context.Context, msg ports.InboundMessage) error {
	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err = w.dispatch(ctx, msg)
		if err == nil || !domain.IsTransient(err) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * w.backoff):
		}
	}
	if err != nil && !domain.IsTransient(err) {
		w.logger.WarnContext(ctx, "inbound event dropped",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "dispatch",
			"outcome", "rejected",
			"topic", msg.Topic,
			"error", err,
		)
		return nil
	}
	return err
}

func (w *ConsumerWorker) dispatch(ctx context.Context, msg ports.InboundMessage) error {
	switch msg.Topic {
	case w.topicConfirmed:
		return w.handler.HandlePaymentConfirmedEvent(ctx, msg.Payload)
	case w.topicCancel:
		return w.handler.HandleCancelRequestedEvent(ctx, msg.Payload)
	default:
		w.logger.DebugContext(ctx, "ignoring unrouted topic",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"topic", msg.Topic,
		)
		return nil
	}
}
