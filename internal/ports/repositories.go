package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

type CreateOrderParams struct {
	OrderID       string
	OrderRef      string
	UserID        string
	PaymentMethod string
	PaymentStatus domain.PaymentStatus
	TotalAmount   int64
	Currency      string
	PartnerLinkID string
	Items         []domain.LineItem
	CreatedAt     time.Time
}

type MarkPaidParams struct {
	OrderID        string
	PaymentKey     string
	GatewayOrderID string
	PaymentMethod  string
	ConfirmedAt    time.Time
}

type MarkCancelledParams struct {
	OrderID     string
	Reason      string
	Refunded    bool
	CancelledAt time.Time
}

// OrderRepository is the order ledger. Transitions are conditional writes and
// report whether this call performed them.
type OrderRepository interface {
	Create(ctx context.Context, params CreateOrderParams) (domain.Order, error)
	GetByID(ctx context.Context, orderID string) (domain.Order, error)
	GetByRef(ctx context.Context, orderRef string) (domain.Order, error)
	MarkPaid(ctx context.Context, params MarkPaidParams) (bool, error)
	MarkCancelled(ctx context.Context, params MarkCancelledParams) (bool, error)
	Abandon(ctx context.Context, orderID string, at time.Time) (bool, error)
}

type AccrueParams struct {
	OrderID       string
	PartnerLinkID string
	Commission    int64
	At            time.Time
}

type ClawbackParams struct {
	OrderID       string
	PartnerLinkID string
	At            time.Time
}

// CommissionLedger is the only writer of a partner link's conversion and revenue
// counters. Accrue snapshots the commission on the order; Clawback reverses that
// snapshot and returns the amount it reversed. Each applies at most once per order.
type CommissionLedger interface {
	Accrue(ctx context.Context, params AccrueParams) (domain.CommissionOutcome, error)
	Clawback(ctx context.Context, params ClawbackParams) (domain.CommissionOutcome, int64, error)
}

type PartnerLinkRepository interface {
	GetByID(ctx context.Context, partnerLinkID string) (domain.PartnerLink, error)
}

type BusinessRegistrationRepository interface {
	GetByUserID(ctx context.Context, userID string) (domain.BusinessRegistration, error)
}

type OutboxEvent struct {
	EventID          uuid.UUID
	EventType        string
	PartitionKey     string
	PartitionKeyPath string
	Payload          []byte
	OccurredAt       time.Time
	SchemaVersion    string
	TraceID          string
}

type OutboxRecord struct {
	OutboxID     uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	PublishedAt  *time.Time
	LastError    *string
	LastErrorAt  *time.Time
	FirstSeenAt  time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	FetchUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}
