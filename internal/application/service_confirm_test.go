package application

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

func TestConfirmAccruesCommissionAndDispatchesPayout(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, testLinkID)

	result := h.confirm(t, order)
	h.waitForPayouts(t)

	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, domain.CommissionApplied, result.Commission)
	assert.Equal(t, int64(1500), result.CommissionAmount, "commission is 15% of products only, floored")
	assert.Equal(t, domain.OrderStatusConfirmed, result.Order.Status)
	assert.Equal(t, domain.PaymentStatusPaid, result.Order.PaymentStatus)
	assert.Equal(t, "카드", result.Order.PaymentMethod)

	stored := h.order(t, order.OrderID)
	assert.Equal(t, domain.CommissionStateAccrued, stored.CommissionState)
	assert.Equal(t, int64(1500), stored.CommissionAmount)
	link := h.link(t)
	assert.Equal(t, int64(1), link.ConversionCount)
	assert.Equal(t, int64(1500), link.Revenue)

	requests := h.payouts.submitted()
	require.Len(t, requests, 1)
	assert.Equal(t, testSellerID, requests[0].Destination)
	assert.Equal(t, domain.PayoutAmount{Currency: "KRW", Value: 1500}, requests[0].Amount)
	assert.Equal(t, domain.PayoutScheduleScheduled, requests[0].ScheduleType)
	assert.Equal(t, "2026-10-15", requests[0].PayoutDate)
	assert.True(t, strings.HasPrefix(requests[0].RefPayoutID, "COMM-"+order.OrderRef+"-"))
	assert.Equal(t, order.OrderRef, requests[0].Metadata["orderId"])
	assert.Equal(t, testLinkID, requests[0].Metadata["partnerLinkId"])

	assert.Equal(t, []string{
		domain.EventOrderConfirmed,
		domain.EventPartnerCommissionAccrued,
		domain.EventPayoutRequested,
	}, h.repos.Outbox.EventTypes())
}

func TestConfirmRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, testLinkID)

	h.confirm(t, order)
	replay := h.confirm(t, order)
	h.waitForPayouts(t)

	assert.True(t, replay.AlreadyProcessed)
	assert.Equal(t, domain.CommissionAlreadyApplied, replay.Commission)
	assert.Equal(t, int64(1500), replay.CommissionAmount)
	assert.Len(t, h.payments.confirmCalls(), 1, "gateway must be called once")
	link := h.link(t)
	assert.Equal(t, int64(1), link.ConversionCount)
	assert.Equal(t, int64(1500), link.Revenue)
	assert.Len(t, h.payouts.submitted(), 1)
}

func TestConfirmRejectsDifferentPaymentKeyForPaidOrder(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, "")
	h.confirm(t, order)

	_, err := h.service.ProcessPaymentConfirmation(context.Background(), ConfirmPaymentInput{
		OrderRef:   order.OrderRef,
		PaymentKey: "pk_other",
		Amount:     order.TotalAmount,
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, h.payments.confirmCalls(), 1)
}

func TestConfirmAmountMismatchNeverReachesGateway(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, testLinkID)

	_, err := h.service.ProcessPaymentConfirmation(context.Background(), ConfirmPaymentInput{
		OrderRef:   order.OrderRef,
		PaymentKey: "pk_1",
		Amount:     order.TotalAmount - 1,
	})
	require.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.Empty(t, h.payments.confirmCalls())
	assert.Equal(t, domain.PaymentStatusPending, h.order(t, order.OrderID).PaymentStatus)
}

func TestConfirmGatewayRejectionLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, testLinkID)
	h.payments.confirmErrs = []error{&domain.GatewayError{StatusCode: 400, Code: "REJECT_CARD_COMPANY", Message: "카드사에서 거절했습니다."}}

	_, err := h.service.ProcessPaymentConfirmation(context.Background(), ConfirmPaymentInput{
		OrderRef:   order.OrderRef,
		PaymentKey: "pk_1",
		Amount:     order.TotalAmount,
	})
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	gwErr, ok := domain.AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, "카드사에서 거절했습니다.", gwErr.Message)

	stored := h.order(t, order.OrderID)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Equal(t, domain.CommissionStateNone, stored.CommissionState)
	assert.Empty(t, h.repos.Outbox.EventTypes())
}

func TestConfirmTreatsAlreadyProcessedPaymentAsCaptured(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, testLinkID)
	h.payments.confirmErrs = []error{&domain.GatewayError{StatusCode: 400, Code: domain.GatewayCodeAlreadyProcessed, Message: "이미 처리된 결제 입니다."}}

	result := h.confirm(t, order)
	h.waitForPayouts(t)

	assert.Equal(t, domain.PaymentStatusPaid, result.Order.PaymentStatus)
	assert.Equal(t, order.OrderRef, result.Order.GatewayOrderID)
	assert.Equal(t, domain.CommissionApplied, result.Commission)
}

func TestConfirmHealsAccrualOnRedelivery(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, testLinkID)
	h.ledger.failAccrue = 1

	_, err := h.service.ProcessPaymentConfirmation(context.Background(), ConfirmPaymentInput{
		OrderRef:   order.OrderRef,
		PaymentKey: "pk_" + order.OrderRef,
		Amount:     order.TotalAmount,
	})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	stored := h.order(t, order.OrderID)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, domain.CommissionStateNone, stored.CommissionState)

	replay := h.confirm(t, order)
	h.waitForPayouts(t)

	assert.True(t, replay.AlreadyProcessed)
	assert.Equal(t, domain.CommissionApplied, replay.Commission)
	assert.Equal(t, int64(1500), replay.CommissionAmount)
	assert.Equal(t, domain.CommissionStateAccrued, replay.Order.CommissionState)
	assert.Len(t, h.payments.confirmCalls(), 1)
	assert.Equal(t, int64(1500), h.link(t).Revenue)
}

func TestConfirmWithoutPartnerSkipsCommission(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, "")

	result := h.confirm(t, order)
	h.waitForPayouts(t)

	assert.Equal(t, domain.CommissionNotApplicable, result.Commission)
	assert.Zero(t, result.CommissionAmount)
	assert.Empty(t, h.payouts.submitted())
	assert.Equal(t, []string{domain.EventOrderConfirmed}, h.repos.Outbox.EventTypes())
}

func TestConfirmWithUnknownPartnerLinkMarksUnresolved(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, "link-gone")

	result := h.confirm(t, order)
	h.waitForPayouts(t)

	assert.Equal(t, domain.CommissionLinkMissing, result.Commission)
	assert.Equal(t, domain.PaymentStatusPaid, result.Order.PaymentStatus)
	assert.Equal(t, domain.CommissionStateUnresolved, h.order(t, order.OrderID).CommissionState)
	assert.Empty(t, h.payouts.submitted())
}

func TestConfirmUsesConfiguredCommissionRate(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) {
		d.Config.CommissionRate = decimal.RequireFromString("0.1")
	})
	order := h.placePartnerOrder(t, testLinkID)

	result := h.confirm(t, order)
	h.waitForPayouts(t)

	assert.Equal(t, int64(1000), result.CommissionAmount)
	assert.Equal(t, int64(1000), h.payouts.submitted()[0].Amount.Value)
}

func TestGatewayWebhookOutcomes(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, testLinkID)
	hook := GatewayWebhook{
		EventType:  "PAYMENT_STATUS_CHANGED",
		PaymentKey: "pk_hook",
		OrderRef:   order.OrderRef,
		Status:     "WAITING_FOR_DEPOSIT",
		Amount:     order.TotalAmount,
	}

	outcome, err := h.service.HandleGatewayWebhook(context.Background(), hook)
	require.NoError(t, err)
	assert.Equal(t, WebhookOutcome{Handled: false, Result: "ignored"}, outcome)

	hook.Status = "done"
	outcome, err = h.service.HandleGatewayWebhook(context.Background(), hook)
	require.NoError(t, err)
	assert.Equal(t, WebhookOutcome{Handled: true, Result: "confirmed"}, outcome)

	outcome, err = h.service.HandleGatewayWebhook(context.Background(), hook)
	require.NoError(t, err)
	assert.Equal(t, "already_processed", outcome.Result)

	hook.OrderRef = "ORD-0-MISSING00"
	outcome, err = h.service.HandleGatewayWebhook(context.Background(), hook)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "order_not_found", outcome.Result)
	h.waitForPayouts(t)
}

func TestGatewayWebhookTransientFailureAsksForRetry(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, "")
	h.payments.confirmErrs = []error{errors.Join(domain.ErrDependencyUnavailable, errors.New("connection reset"))}

	outcome, err := h.service.HandleGatewayWebhook(context.Background(), GatewayWebhook{
		PaymentKey: "pk_1",
		OrderRef:   order.OrderRef,
		Status:     domain.GatewayPaymentDone,
		Amount:     order.TotalAmount,
	})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, WebhookOutcome{Handled: false, Result: "retry"}, outcome)
}

func TestPlaceOrderReplaysIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	actor := buyer
	actor.IdempotencyKey = "idem-place-1"
	input := PlaceOrderInput{
		Items:       []domain.LineItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 3000}},
		TotalAmount: 3000,
	}

	first, err := h.service.PlaceOrder(context.Background(), actor, input)
	require.NoError(t, err)
	second, err := h.service.PlaceOrder(context.Background(), actor, input)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Regexp(t, `^ORD-\d+-[A-Z0-9]{9}$`, first.OrderRef)

	input.TotalAmount = 4000
	_, err = h.service.PlaceOrder(context.Background(), actor, input)
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestGetOrderIsOwnerOnly(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, "")

	_, err := h.service.GetOrder(context.Background(), Actor{SubjectID: "buyer-2"}, order.OrderRef)
	require.ErrorIs(t, err, domain.ErrForbidden)
	got, err := h.service.GetOrder(context.Background(), Actor{SubjectID: "ops", Role: "admin"}, order.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, got.OrderID)
}
