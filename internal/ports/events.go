package ports

import "context"

// EventPublisher delivers outbox payloads to the broker, keyed for partition affinity.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

type InboundMessage struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Payload   []byte
}

// EventConsumer yields inbound messages. Commit acknowledges a message and every
// earlier offset on its partition, so callers commit strictly in order and never
// past a message that still needs handling. Poll does not return a message twice.
type EventConsumer interface {
	Poll(ctx context.Context, max int) ([]InboundMessage, error)
	Commit(ctx context.Context, msg InboundMessage) error
}
