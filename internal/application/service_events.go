package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

type orderEventData struct {
	OrderID          string `json:"order_id"`
	OrderRef         string `json:"order_ref"`
	UserID           string `json:"user_id"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	TotalAmount      int64  `json:"total_amount"`
	Currency         string `json:"currency"`
	PartnerLinkID    string `json:"partner_link_id,omitempty"`
	CommissionState  string `json:"commission_state"`
	CommissionAmount int64  `json:"commission_amount"`
	Reason           string `json:"reason,omitempty"`
}

type commissionEventData struct {
	PartnerLinkID string `json:"partner_link_id"`
	OrderID       string `json:"order_id"`
	OrderRef      string `json:"order_ref"`
	Amount        int64  `json:"amount"`
}

type payoutEventData struct {
	PartnerLinkID   string `json:"partner_link_id"`
	OrderRef        string `json:"order_ref"`
	RefPayoutID     string `json:"ref_payout_id,omitempty"`
	Amount          int64  `json:"amount"`
	Status          string `json:"status"`
	SkipReason      string `json:"skip_reason,omitempty"`
	AvailableAmount int64  `json:"available_amount,omitempty"`
}

func toOrderEventData(order domain.Order) orderEventData {
	return orderEventData{
		OrderID:          order.OrderID,
		OrderRef:         order.OrderRef,
		UserID:           order.UserID,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		TotalAmount:      order.TotalAmount,
		Currency:         order.Currency,
		PartnerLinkID:    order.PartnerLinkID,
		CommissionState:  string(order.CommissionState),
		CommissionAmount: order.CommissionAmount,
		Reason:           order.CancelReason,
	}
}

// enqueueEvent writes the standard envelope to the outbox. Outbox failures are
// logged; the ledger write that caused the event is already committed.
func (s *Service) enqueueEvent(ctx context.Context, eventType, partitionKeyPath, partitionKey string, data any) {
	if s.outbox == nil {
		return
	}
	occurredAt := s.nowFn()
	eventID := uuid.New()
	envelope := map[string]any{
		"event_id":           eventID.String(),
		"event_type":         eventType,
		"occurred_at":        occurredAt.Format(time.RFC3339),
		"source_service":     s.cfg.ServiceName,
		"trace_id":           "",
		"schema_version":     "1.0",
		"partition_key_path": partitionKeyPath,
		"partition_key":      partitionKey,
		"data":               data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	if err := s.outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:          eventID,
		EventType:        eventType,
		PartitionKey:     partitionKey,
		PartitionKeyPath: partitionKeyPath,
		Payload:          payload,
		OccurredAt:       occurredAt,
		SchemaVersion:    "1.0",
	}); err != nil {
		s.logger.WarnContext(ctx, "outbox enqueue failed",
			"operation", "enqueue_event",
			"outcome", "failure",
			"event_type", eventType,
			"partition_key", partitionKey,
			"error", err,
		)
	}
}

func (s *Service) enqueueOrderEvent(ctx context.Context, eventType string, order domain.Order) {
	s.enqueueEvent(ctx, eventType, "data.order_id", order.OrderID, toOrderEventData(order))
}

func (s *Service) enqueueCommissionEvent(ctx context.Context, eventType string, order domain.Order, amount int64) {
	s.enqueueEvent(ctx, eventType, "data.partner_link_id", order.PartnerLinkID, commissionEventData{
		PartnerLinkID: order.PartnerLinkID,
		OrderID:       order.OrderID,
		OrderRef:      order.OrderRef,
		Amount:        amount,
	})
}

func (s *Service) enqueuePayoutEvent(ctx context.Context, input PayoutInput, outcome domain.PayoutOutcome) {
	eventType := domain.EventPayoutRequested
	if outcome.Status == domain.PayoutSkipped {
		eventType = domain.EventPayoutSkipped
	}
	data := payoutEventData{
		PartnerLinkID:   input.PartnerLinkID,
		OrderRef:        input.OrderRef,
		RefPayoutID:     outcome.RefPayoutID,
		Amount:          input.Amount,
		Status:          string(outcome.Status),
		SkipReason:      outcome.SkipReason,
		AvailableAmount: outcome.AvailableAmount,
	}
	if outcome.Receipt != nil {
		data.Status = outcome.Receipt.Status
	}
	s.enqueueEvent(ctx, eventType, "data.partner_link_id", input.PartnerLinkID, data)
}

type inboundEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type paymentConfirmedData struct {
	OrderRef   string `json:"order_ref"`
	PaymentKey string `json:"payment_key"`
	Amount     int64  `json:"amount"`
	UserEmail  string `json:"user_email"`
}

type cancelRequestedData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// HandlePaymentConfirmedEvent drives a confirmation from the broker. Only
// transient failures are returned so the consumer retries them.
func (s *Service) HandlePaymentConfirmedEvent(ctx context.Context, payload []byte) error {
	env, err := s.decodeInbound(payload, domain.EventPaymentConfirmed)
	if err != nil {
		return err
	}
	return s.handleOnce(ctx, env, func(ctx context.Context) error {
		var data paymentConfirmedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		_, err := s.ProcessPaymentConfirmation(ctx, ConfirmPaymentInput{
			OrderRef:   data.OrderRef,
			PaymentKey: data.PaymentKey,
			Amount:     data.Amount,
			UserEmail:  data.UserEmail,
		})
		return err
	})
}

func (s *Service) HandleCancelRequestedEvent(ctx context.Context, payload []byte) error {
	env, err := s.decodeInbound(payload, domain.EventOrderCancelRequested)
	if err != nil {
		return err
	}
	return s.handleOnce(ctx, env, func(ctx context.Context) error {
		var data cancelRequestedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		_, err := s.ProcessCancellation(ctx, data.OrderID, data.Reason)
		return err
	})
}

func (s *Service) decodeInbound(payload []byte, expectedType string) (inboundEnvelope, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return inboundEnvelope{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if strings.TrimSpace(env.EventID) == "" {
		return inboundEnvelope{}, fmt.Errorf("%w: event_id is required", domain.ErrInvalidInput)
	}
	if env.EventType != "" && env.EventType != expectedType {
		return inboundEnvelope{}, fmt.Errorf("%w: unexpected event_type %s", domain.ErrInvalidInput, env.EventType)
	}
	return env, nil
}

func (s *Service) handleOnce(ctx context.Context, env inboundEnvelope, fn func(context.Context) error) error {
	now := s.nowFn()
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, env.EventID, now)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		if dup {
			return nil
		}
	}
	err := fn(ctx)
	if err != nil && domain.IsTransient(err) {
		return err
	}
	if err != nil {
		s.logger.WarnContext(ctx, "inbound event rejected",
			"operation", "handle_event",
			"outcome", "rejected",
			"event_id", env.EventID,
			"event_type", env.EventType,
			"error", err,
		)
	}
	if s.eventDedup != nil {
		if markErr := s.eventDedup.MarkProcessed(ctx, env.EventID, env.EventType, now.Add(s.cfg.EventDedupTTL)); markErr != nil {
			return errors.Join(domain.ErrStorageUnavailable, markErr)
		}
	}
	return nil
}
