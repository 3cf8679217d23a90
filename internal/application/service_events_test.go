package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

func inboundEvent(t *testing.T, eventID, eventType string, data any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event_id":   eventID,
		"event_type": eventType,
		"data":       data,
	})
	require.NoError(t, err)
	return payload
}

func TestPaymentConfirmedEventIsProcessedOnce(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, testLinkID)
	payload := inboundEvent(t, "evt-1", domain.EventPaymentConfirmed, map[string]any{
		"order_ref":   order.OrderRef,
		"payment_key": "pk_evt",
		"amount":      order.TotalAmount,
	})

	require.NoError(t, h.service.HandlePaymentConfirmedEvent(context.Background(), payload))
	require.NoError(t, h.service.HandlePaymentConfirmedEvent(context.Background(), payload))
	h.waitForPayouts(t)

	dup, err := h.repos.EventDedup.IsDuplicate(context.Background(), "evt-1", harnessEpoch.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, dup)
	stored := h.order(t, order.OrderID)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, domain.CommissionStateAccrued, stored.CommissionState)
	assert.Len(t, h.payments.confirmCalls(), 1)
}

func TestPaymentConfirmedEventTransientFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, "")
	h.payments.confirmErrs = []error{errors.Join(domain.ErrDependencyUnavailable, errors.New("gateway timeout"))}
	payload := inboundEvent(t, "evt-2", domain.EventPaymentConfirmed, map[string]any{
		"order_ref":   order.OrderRef,
		"payment_key": "pk_evt",
		"amount":      order.TotalAmount,
	})

	err := h.service.HandlePaymentConfirmedEvent(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	dup, err := h.repos.EventDedup.IsDuplicate(context.Background(), "evt-2", harnessEpoch.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, dup, "transient failures must stay redeliverable")

	require.NoError(t, h.service.HandlePaymentConfirmedEvent(context.Background(), payload))
	assert.Equal(t, domain.PaymentStatusPaid, h.order(t, order.OrderID).PaymentStatus)
}

func TestPaymentConfirmedEventRejectionIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, "")
	payload := inboundEvent(t, "evt-3", domain.EventPaymentConfirmed, map[string]any{
		"order_ref":   order.OrderRef,
		"payment_key": "pk_evt",
		"amount":      order.TotalAmount + 100,
	})

	require.NoError(t, h.service.HandlePaymentConfirmedEvent(context.Background(), payload))
	dup, err := h.repos.EventDedup.IsDuplicate(context.Background(), "evt-3", harnessEpoch.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, domain.PaymentStatusPending, h.order(t, order.OrderID).PaymentStatus)
}

func TestInboundEventValidation(t *testing.T) {
	h := newHarness(t)

	err := h.service.HandlePaymentConfirmedEvent(context.Background(), []byte("{not json"))
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	err = h.service.HandlePaymentConfirmedEvent(context.Background(), inboundEvent(t, "", domain.EventPaymentConfirmed, map[string]any{}))
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	err = h.service.HandleCancelRequestedEvent(context.Background(), inboundEvent(t, "evt-4", domain.EventPaymentConfirmed, map[string]any{}))
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCancelRequestedEventCancelsOrder(t *testing.T) {
	h := newHarness(t)
	order := h.confirmedPartnerOrder(t)
	payload := inboundEvent(t, "evt-5", domain.EventOrderCancelRequested, map[string]any{
		"order_id": order.OrderID,
		"reason":   "out of stock",
	})

	require.NoError(t, h.service.HandleCancelRequestedEvent(context.Background(), payload))
	require.NoError(t, h.service.HandleCancelRequestedEvent(context.Background(), payload))

	stored := h.order(t, order.OrderID)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Equal(t, domain.CommissionStateReversed, stored.CommissionState)
	assert.Equal(t, []string{"out of stock"}, h.payments.cancelCalls())
}

func TestOutboxEnvelopeShape(t *testing.T) {
	h := newHarness(t)
	order := h.placePartnerOrder(t, "")
	h.confirm(t, order)

	records, err := h.repos.Outbox.FetchUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	var envelope struct {
		EventID          string         `json:"event_id"`
		EventType        string         `json:"event_type"`
		SourceService    string         `json:"source_service"`
		SchemaVersion    string         `json:"schema_version"`
		PartitionKeyPath string         `json:"partition_key_path"`
		PartitionKey     string         `json:"partition_key"`
		Data             map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(records[0].Payload, &envelope))
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, domain.EventOrderConfirmed, envelope.EventType)
	assert.Equal(t, "M92-Order-Settlement-Service", envelope.SourceService)
	assert.Equal(t, "1.0", envelope.SchemaVersion)
	assert.Equal(t, "data.order_id", envelope.PartitionKeyPath)
	assert.Equal(t, order.OrderID, envelope.PartitionKey)
	assert.Equal(t, "paid", envelope.Data["payment_status"])
}
