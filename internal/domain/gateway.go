package domain

import "time"

// GatewayReceipt is the typed success side of a payment confirmation.
type GatewayReceipt struct {
	PaymentKey  string
	OrderID     string
	Status      string
	Method      string
	TotalAmount int64
	ApprovedAt  *time.Time
}

type GatewayCancelReceipt struct {
	PaymentKey  string
	OrderID     string
	Status      string
	CancelledAt *time.Time
}

const (
	GatewayPaymentDone     = "DONE"
	GatewayPaymentCanceled = "CANCELED"

	// GatewayCodeAlreadyProcessed is returned when the payment key was already confirmed upstream.
	GatewayCodeAlreadyProcessed = "ALREADY_PROCESSED_PAYMENT"
)
