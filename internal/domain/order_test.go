package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func paidOrder() Order {
	return Order{
		OrderID:           "order-1",
		OrderRef:          "ORD-1-ABC",
		Status:            OrderStatusConfirmed,
		PaymentStatus:     PaymentStatusPaid,
		TotalAmount:       12000,
		GatewayPaymentKey: "pk_1",
	}
}

func TestEvaluateConfirmation(t *testing.T) {
	t.Parallel()

	pending := Order{Status: OrderStatusPending, PaymentStatus: PaymentStatusPending, TotalAmount: 12000}
	cancelled := pending
	cancelled.Status = OrderStatusCancelled
	cod := pending
	cod.PaymentStatus = PaymentStatusCashOnDelivery

	cases := []struct {
		name     string
		order    Order
		key      string
		amount   int64
		decision ConfirmDecision
		wantErr  error
	}{
		{name: "pending proceeds", order: pending, key: "pk_1", amount: 12000, decision: ConfirmProceed},
		{name: "same key replays", order: paidOrder(), key: "pk_1", amount: 12000, decision: ConfirmAlreadyProcessed},
		{name: "other key conflicts", order: paidOrder(), key: "pk_2", amount: 12000, wantErr: ErrConflict},
		{name: "amount mismatch", order: pending, key: "pk_1", amount: 11999, wantErr: ErrAmountMismatch},
		{name: "cancelled order", order: cancelled, key: "pk_1", amount: 12000, wantErr: ErrAlreadyCancelled},
		{name: "missing key", order: pending, key: " ", amount: 12000, wantErr: ErrInvalidInput},
		{name: "cash on delivery", order: cod, key: "pk_1", amount: 12000, wantErr: ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := EvaluateConfirmation(tc.order, tc.key, tc.amount)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision != tc.decision {
				t.Fatalf("expected decision %d, got %d", tc.decision, decision)
			}
		})
	}
}

func TestEvaluateCancellation(t *testing.T) {
	t.Parallel()

	if err := EvaluateCancellation(paidOrder()); err != nil {
		t.Fatalf("expected paid order to be cancellable, got %v", err)
	}
	cancelled := paidOrder()
	cancelled.Status = OrderStatusCancelled
	if err := EvaluateCancellation(cancelled); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
	pending := Order{Status: OrderStatusPending, PaymentStatus: PaymentStatusPending}
	if err := EvaluateCancellation(pending); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestEvaluateAbandon(t *testing.T) {
	t.Parallel()

	pending := Order{Status: OrderStatusPending, PaymentStatus: PaymentStatusPending}
	if err := EvaluateAbandon(pending); err != nil {
		t.Fatalf("expected pending order to be abandonable, got %v", err)
	}
	if err := EvaluateAbandon(paidOrder()); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable for paid order, got %v", err)
	}
	pending.Status = OrderStatusCancelled
	if err := EvaluateAbandon(pending); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
}

func TestValidateNewOrder(t *testing.T) {
	t.Parallel()

	items := []LineItem{{ProductID: "p-1", Quantity: 2, UnitPrice: 5000}}
	if err := ValidateNewOrder(items, 13000, PaymentMethodCard); err != nil {
		t.Fatalf("expected valid order, got %v", err)
	}
	invalid := []struct {
		name   string
		items  []LineItem
		total  int64
		method string
	}{
		{name: "no items", items: nil, total: 1000, method: PaymentMethodCard},
		{name: "zero quantity", items: []LineItem{{ProductID: "p-1", UnitPrice: 100}}, total: 1000, method: PaymentMethodCard},
		{name: "total below items", items: items, total: 9999, method: PaymentMethodCard},
		{name: "unknown method", items: items, total: 10000, method: "crypto"},
	}
	for _, tc := range invalid {
		if err := ValidateNewOrder(tc.items, tc.total, tc.method); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestInitialPaymentStatus(t *testing.T) {
	t.Parallel()

	if got := InitialPaymentStatus(PaymentMethodCashOnDelivery); got != PaymentStatusCashOnDelivery {
		t.Fatalf("expected cash_on_delivery, got %s", got)
	}
	if got := InitialPaymentStatus(PaymentMethodCard); got != PaymentStatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
}

func TestNewOrderRef(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1760000000123)
	ref := NewOrderRef(now, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if ref != "ORD-1760000000123-ABCDEFGHI" {
		t.Fatalf("unexpected order ref: %s", ref)
	}
	wrapped := NewOrderRef(now, []byte{36, 37, 71, 35, 35, 35, 35, 35, 35})
	if !strings.HasSuffix(wrapped, "-AB9999999") {
		t.Fatalf("expected suffix to wrap the alphabet, got %s", wrapped)
	}
}
