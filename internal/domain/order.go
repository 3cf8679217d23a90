package domain

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string
type PaymentStatus string
type CommissionState string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusPaid           PaymentStatus = "paid"
	PaymentStatusRefunded       PaymentStatus = "refunded"
	PaymentStatusCashOnDelivery PaymentStatus = "cash_on_delivery"
)

// Commission state tracks what the commission ledger has applied for an order.
const (
	CommissionStateNone       CommissionState = "none"
	CommissionStateAccrued    CommissionState = "accrued"
	CommissionStateReversed   CommissionState = "reversed"
	CommissionStateUnresolved CommissionState = "unresolved"
)

const (
	PaymentMethodCard           = "card"
	PaymentMethodCashOnDelivery = "cash_on_delivery"
	DefaultCurrency             = "KRW"
)

type LineItem struct {
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

func (i LineItem) Total() int64 {
	return i.UnitPrice * i.Quantity
}

type Order struct {
	OrderID           string          `json:"order_id"`
	OrderRef          string          `json:"order_ref"`
	UserID            string          `json:"user_id"`
	Status            OrderStatus     `json:"status"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	PaymentMethod     string          `json:"payment_method"`
	TotalAmount       int64           `json:"total_amount"`
	Currency          string          `json:"currency"`
	GatewayPaymentKey string          `json:"gateway_payment_key,omitempty"`
	GatewayOrderID    string          `json:"gateway_order_id,omitempty"`
	PartnerLinkID     string          `json:"partner_link_id,omitempty"`
	CommissionState   CommissionState `json:"commission_state"`
	CommissionAmount  int64           `json:"commission_amount"`
	CancelReason      string          `json:"cancel_reason,omitempty"`
	Items             []LineItem      `json:"items"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ConfirmedAt       *time.Time      `json:"confirmed_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
}

func (o Order) HasPartner() bool {
	return strings.TrimSpace(o.PartnerLinkID) != ""
}

type ConfirmDecision int

const (
	ConfirmProceed ConfirmDecision = iota
	ConfirmAlreadyProcessed
)

// EvaluateConfirmation decides how a confirmation for (paymentKey, amount)
// applies to the order as currently persisted. It never mutates the order.
func EvaluateConfirmation(order Order, paymentKey string, amount int64) (ConfirmDecision, error) {
	if strings.TrimSpace(paymentKey) == "" {
		return ConfirmProceed, fmt.Errorf("%w: payment key is required", ErrInvalidInput)
	}
	if order.Status == OrderStatusCancelled {
		return ConfirmProceed, ErrAlreadyCancelled
	}
	if amount != order.TotalAmount {
		return ConfirmProceed, fmt.Errorf("%w: confirmed %d, order total %d", ErrAmountMismatch, amount, order.TotalAmount)
	}
	switch order.PaymentStatus {
	case PaymentStatusPending:
		return ConfirmProceed, nil
	case PaymentStatusPaid:
		if order.GatewayPaymentKey == paymentKey {
			return ConfirmAlreadyProcessed, nil
		}
		return ConfirmProceed, fmt.Errorf("%w: order already paid with a different payment key", ErrConflict)
	default:
		return ConfirmProceed, fmt.Errorf("%w: payment status %s cannot be confirmed", ErrConflict, order.PaymentStatus)
	}
}

// EvaluateCancellation reports whether a captured payment may be cancelled.
func EvaluateCancellation(order Order) error {
	if order.Status == OrderStatusCancelled {
		return ErrAlreadyCancelled
	}
	if order.PaymentStatus != PaymentStatusPaid {
		return fmt.Errorf("%w: payment status is %s", ErrNotCancellable, order.PaymentStatus)
	}
	return nil
}

// EvaluateAbandon reports whether an unpaid order may be dropped by its owner.
func EvaluateAbandon(order Order) error {
	if order.Status == OrderStatusCancelled {
		return ErrAlreadyCancelled
	}
	if order.Status != OrderStatusPending || order.PaymentStatus != PaymentStatusPending {
		return fmt.Errorf("%w: only pending orders can be abandoned", ErrNotCancellable)
	}
	return nil
}

func ValidateNewOrder(items []LineItem, totalAmount int64, paymentMethod string) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrInvalidInput)
	}
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: line item product_id is required", ErrInvalidInput)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: line item quantity must be positive", ErrInvalidInput)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: line item price must not be negative", ErrInvalidInput)
		}
	}
	if totalAmount <= 0 {
		return fmt.Errorf("%w: total_amount must be positive", ErrInvalidInput)
	}
	if totalAmount < CommissionBase(items) {
		return fmt.Errorf("%w: total_amount is below the line item total", ErrInvalidInput)
	}
	switch paymentMethod {
	case PaymentMethodCard, PaymentMethodCashOnDelivery:
		return nil
	default:
		return fmt.Errorf("%w: unsupported payment_method %q", ErrInvalidInput, paymentMethod)
	}
}

// InitialPaymentStatus returns the payment axis a new order starts on.
func InitialPaymentStatus(paymentMethod string) PaymentStatus {
	if paymentMethod == PaymentMethodCashOnDelivery {
		return PaymentStatusCashOnDelivery
	}
	return PaymentStatusPending
}

const orderRefAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewOrderRef formats ORD-<unix millis>-<9 chars>. entropy supplies the suffix bytes.
func NewOrderRef(now time.Time, entropy []byte) string {
	var b strings.Builder
	for _, v := range entropy {
		b.WriteByte(orderRefAlphabet[int(v)%len(orderRefAlphabet)])
		if b.Len() == 9 {
			break
		}
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), b.String())
}
