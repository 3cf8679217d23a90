package application

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

type Config struct {
	ServiceName         string
	Currency            string
	CommissionRate      decimal.Decimal
	DefaultCancelReason string
	IdempotencyTTL      time.Duration
	EventDedupTTL       time.Duration
	PayoutsEnabled      bool
	PayoutBalanceCheck  bool
	PayoutAttemptTTL    time.Duration
}

type Actor struct {
	SubjectID      string
	Email          string
	Role           string
	RequestID      string
	IdempotencyKey string
}

func (a Actor) IsAdmin() bool {
	return a.Role == "admin"
}

type PlaceOrderInput struct {
	Items         []domain.LineItem `json:"items"`
	TotalAmount   int64             `json:"total_amount"`
	PaymentMethod string            `json:"payment_method"`
	PartnerLinkID string            `json:"partner_link_id,omitempty"`
}

type ConfirmPaymentInput struct {
	OrderRef   string `json:"order_ref"`
	PaymentKey string `json:"payment_key"`
	Amount     int64  `json:"amount"`
	UserEmail  string `json:"user_email,omitempty"`
}

type ConfirmationResult struct {
	Order            domain.Order             `json:"order"`
	AlreadyProcessed bool                     `json:"already_processed"`
	Commission       domain.CommissionOutcome `json:"commission_outcome"`
	CommissionAmount int64                    `json:"commission_amount"`
}

type CancelOrderInput struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type CancelAfterCaptureInput struct {
	OrderID            string `json:"order_id"`
	PaymentKey         string `json:"payment_key"`
	CorrectiveOrderRef string `json:"corrective_order_ref"`
	Amount             int64  `json:"amount"`
}

type CancellationResult struct {
	Order          domain.Order             `json:"order"`
	Refunded       bool                     `json:"refunded"`
	Clawback       domain.CommissionOutcome `json:"clawback_outcome"`
	ClawbackAmount int64                    `json:"clawback_amount"`
}

type PayoutInput struct {
	PartnerLinkID string
	Amount        int64
	OrderRef      string
}

// GatewayWebhook is the subset of the gateway's payment status notification this service acts on.
type GatewayWebhook struct {
	EventType  string
	PaymentKey string
	OrderRef   string
	Status     string
	Amount     int64
}

type WebhookOutcome struct {
	Handled bool   `json:"handled"`
	Result  string `json:"result"`
}
