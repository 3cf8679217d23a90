package events

import (
	"context"
	"log/slog"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

// LoggingPublisher is the publisher used when no broker is configured. It
// acknowledges every event so the outbox drains in local runs.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.InfoContext(ctx, "settlement event published",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "logged",
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}

var _ ports.EventPublisher = (*LoggingPublisher)(nil)
