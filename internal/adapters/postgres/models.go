package postgres

import (
	"time"

	"github.com/google/uuid"
)

type orderModel struct {
	OrderID           string     `gorm:"column:order_id;primaryKey"`
	OrderRef          string     `gorm:"column:order_ref"`
	UserID            string     `gorm:"column:user_id"`
	Status            string     `gorm:"column:status"`
	PaymentStatus     string     `gorm:"column:payment_status"`
	PaymentMethod     string     `gorm:"column:payment_method"`
	TotalAmount       int64      `gorm:"column:total_amount"`
	Currency          string     `gorm:"column:currency"`
	GatewayPaymentKey *string    `gorm:"column:gateway_payment_key"`
	GatewayOrderID    *string    `gorm:"column:gateway_order_id"`
	PartnerLinkID     *string    `gorm:"column:partner_link_id"`
	CommissionState   string     `gorm:"column:commission_state"`
	CommissionAmount  int64      `gorm:"column:commission_amount"`
	CancelReason      *string    `gorm:"column:cancel_reason"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
	ConfirmedAt       *time.Time `gorm:"column:confirmed_at"`
	CancelledAt       *time.Time `gorm:"column:cancelled_at"`
}

func (orderModel) TableName() string { return "orders" }

type orderItemModel struct {
	ItemID    string `gorm:"column:item_id;primaryKey"`
	OrderID   string `gorm:"column:order_id"`
	ProductID string `gorm:"column:product_id"`
	Title     string `gorm:"column:title"`
	Quantity  int64  `gorm:"column:quantity"`
	UnitPrice int64  `gorm:"column:unit_price"`
	Position  int    `gorm:"column:position"`
}

func (orderItemModel) TableName() string { return "order_items" }

type partnerLinkModel struct {
	PartnerLinkID   string    `gorm:"column:partner_link_id;primaryKey"`
	PartnerID       string    `gorm:"column:partner_id"`
	ProductID       string    `gorm:"column:product_id"`
	ShortCode       string    `gorm:"column:short_code"`
	ClickCount      int64     `gorm:"column:click_count"`
	ConversionCount int64     `gorm:"column:conversion_count"`
	Revenue         int64     `gorm:"column:revenue"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (partnerLinkModel) TableName() string { return "partner_links" }

type businessRegistrationModel struct {
	RegistrationID string    `gorm:"column:registration_id;primaryKey"`
	UserID         string    `gorm:"column:user_id"`
	BusinessName   string    `gorm:"column:business_name"`
	SellerID       *string   `gorm:"column:seller_id"`
	GatewayStatus  string    `gorm:"column:gateway_status"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (businessRegistrationModel) TableName() string { return "business_registrations" }

type settlementOutboxModel struct {
	OutboxID         uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType        string     `gorm:"column:event_type"`
	PartitionKey     string     `gorm:"column:partition_key"`
	PartitionKeyPath string     `gorm:"column:partition_key_path"`
	Payload          string     `gorm:"column:payload"`
	SchemaVersion    string     `gorm:"column:schema_version"`
	TraceID          string     `gorm:"column:trace_id"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	FirstSeenAt      time.Time  `gorm:"column:first_seen_at"`
	PublishedAt      *time.Time `gorm:"column:published_at"`
	RetryCount       int        `gorm:"column:retry_count"`
	LastError        *string    `gorm:"column:last_error"`
	LastErrorAt      *time.Time `gorm:"column:last_error_at"`
}

func (settlementOutboxModel) TableName() string { return "settlement_outbox" }

type settlementIdempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (settlementIdempotencyModel) TableName() string { return "settlement_idempotency" }

type settlementEventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (settlementEventDedupModel) TableName() string { return "settlement_event_dedup" }
