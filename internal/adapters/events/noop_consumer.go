package events

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

// NoopConsumer stands in when no broker is configured.
type NoopConsumer struct{}

func NewNoopConsumer() *NoopConsumer {
	return &NoopConsumer{}
}

func (n *NoopConsumer) Poll(_ context.Context, _ int) ([]ports.InboundMessage, error) {
	return nil, nil
}

func (n *NoopConsumer) Commit(context.Context, ports.InboundMessage) error {
	return nil
}
