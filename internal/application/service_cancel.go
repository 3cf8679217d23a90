package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

// CancelOrder is the user and admin facing cancellation. It checks ownership
// and honours the actor's idempotency key before delegating to ProcessCancellation.
func (s *Service) CancelOrder(ctx context.Context, actor Actor, input CancelOrderInput) (CancellationResult, error) {
	order, err := s.orders.GetByID(ctx, strings.TrimSpace(input.OrderID))
	if err != nil {
		return CancellationResult{}, err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return CancellationResult{}, err
	}

	requestHash := hashRequest(map[string]string{"op": "cancel", "order_id": order.OrderID, "reason": input.Reason})
	var cached CancellationResult
	if replayed, err := s.replayIdempotent(ctx, actor.IdempotencyKey, requestHash, &cached); err != nil || replayed {
		return cached, err
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return CancellationResult{}, err
	}
	result, err := s.ProcessCancellation(ctx, order.OrderID, input.Reason)
	s.finishIdempotency(ctx, actor.IdempotencyKey, 200, result, err)
	return result, err
}

// CancelAfterCapture is the owner and admin facing entry to ProcessCancelAfterCapture.
func (s *Service) CancelAfterCapture(ctx context.Context, actor Actor, input CancelAfterCaptureInput) (CancellationResult, error) {
	order, err := s.orders.GetByID(ctx, strings.TrimSpace(input.OrderID))
	if err != nil {
		return CancellationResult{}, err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return CancellationResult{}, err
	}
	input.OrderID = order.OrderID

	requestHash := hashRequest(map[string]any{"op": "cancel_after_capture", "input": input})
	var cached CancellationResult
	if replayed, err := s.replayIdempotent(ctx, actor.IdempotencyKey, requestHash, &cached); err != nil || replayed {
		return cached, err
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return CancellationResult{}, err
	}
	result, err := s.ProcessCancelAfterCapture(ctx, input)
	s.finishIdempotency(ctx, actor.IdempotencyKey, 200, result, err)
	return result, err
}

// ProcessCancellation refunds a captured payment through the gateway, marks the
// order cancelled and reverses the commission accrued for it.
func (s *Service) ProcessCancellation(ctx context.Context, orderID, reason string) (result CancellationResult, err error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CancellationResult{}, fmt.Errorf("%w: order_id is required", domain.ErrInvalidInput)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = s.cfg.DefaultCancelReason
	}

	ctx, done := s.telemetry.TrackOperation(ctx, "settlement.cancel", map[string]string{"order_id": orderID})
	defer func() { done(err) }()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return CancellationResult{}, err
	}
	if err = domain.EvaluateCancellation(order); err != nil {
		if errors.Is(err, domain.ErrAlreadyCancelled) {
			return s.replayCancellation(ctx, order, err)
		}
		return CancellationResult{Order: order}, err
	}

	if order.GatewayPaymentKey != "" {
		if _, err = s.payments.CancelPayment(ctx, order.GatewayPaymentKey, reason); err != nil {
			s.logger.WarnContext(ctx, "gateway cancel failed",
				"operation", "process_cancellation",
				"outcome", "failure",
				"order_id", order.OrderID,
				"error", err,
			)
			return CancellationResult{Order: order}, err
		}
	}
	return s.finishCancellation(ctx, order, reason, true)
}

// ProcessCancelAfterCapture cancels an order by confirming a second, corrective
// gateway payment instead of refunding. The original capture stays with the
// gateway, so the order keeps payment status paid while its commission is reversed.
func (s *Service) ProcessCancelAfterCapture(ctx context.Context, input CancelAfterCaptureInput) (result CancellationResult, err error) {
	input.OrderID = strings.TrimSpace(input.OrderID)
	input.PaymentKey = strings.TrimSpace(input.PaymentKey)
	input.CorrectiveOrderRef = strings.TrimSpace(input.CorrectiveOrderRef)
	if input.OrderID == "" || input.PaymentKey == "" || input.CorrectiveOrderRef == "" || input.Amount <= 0 {
		return CancellationResult{}, fmt.Errorf("%w: order_id, payment_key, corrective_order_ref and a positive amount are required", domain.ErrInvalidInput)
	}

	ctx, done := s.telemetry.TrackOperation(ctx, "settlement.cancel_after_capture", map[string]string{"order_id": input.OrderID})
	defer func() { done(err) }()

	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		return CancellationResult{}, err
	}
	if err = domain.EvaluateCancellation(order); err != nil {
		if errors.Is(err, domain.ErrAlreadyCancelled) {
			return s.replayCancellation(ctx, order, err)
		}
		return CancellationResult{Order: order}, err
	}
	if _, err = s.payments.ConfirmPayment(ctx, input.PaymentKey, input.CorrectiveOrderRef, input.Amount); err != nil {
		if gwErr, ok := domain.AsGatewayError(err); ok && gwErr.Code == domain.GatewayCodeAlreadyProcessed {
			// Captured by an earlier attempt that stopped before the order write.
			s.logger.InfoContext(ctx, "corrective payment already captured",
				"operation", "process_cancel_after_capture",
				"outcome", "already_processed",
				"order_id", order.OrderID,
				"corrective_order_ref", input.CorrectiveOrderRef,
			)
			return s.finishCancellation(ctx, order, "cancel after capture: "+input.CorrectiveOrderRef, false)
		}
		s.logger.WarnContext(ctx, "corrective payment failed",
			"operation", "process_cancel_after_capture",
			"outcome", "failure",
			"order_id", order.OrderID,
			"corrective_order_ref", input.CorrectiveOrderRef,
			"error", err,
		)
		return CancellationResult{Order: order}, err
	}
	return s.finishCancellation(ctx, order, "cancel after capture: "+input.CorrectiveOrderRef, false)
}

func (s *Service) finishCancellation(ctx context.Context, order domain.Order, reason string, refunded bool) (CancellationResult, error) {
	applied, err := s.orders.MarkCancelled(ctx, ports.MarkCancelledParams{
		OrderID:     order.OrderID,
		Reason:      reason,
		Refunded:    refunded,
		CancelledAt: s.nowFn(),
	})
	if err != nil {
		return CancellationResult{Order: order}, err
	}
	current, err := s.orders.GetByID(ctx, order.OrderID)
	if err != nil {
		return CancellationResult{Order: order}, err
	}
	if !applied {
		return s.replayCancellation(ctx, current, domain.ErrAlreadyCancelled)
	}

	s.telemetry.RecordSettlement(ctx, "settlement.cancellations", fmt.Sprintf("refunded_%t", refunded), current.TotalAmount)
	s.enqueueOrderEvent(ctx, domain.EventOrderCancelled, current)
	s.logger.InfoContext(ctx, "order cancelled",
		"operation", "process_cancellation",
		"outcome", "success",
		"order_id", current.OrderID,
		"order_ref", current.OrderRef,
		"refunded", refunded,
	)

	result := CancellationResult{Order: current, Refunded: refunded}
	outcome, amount, err := s.clawbackCommission(ctx, current)
	result.Clawback, result.ClawbackAmount = outcome, amount
	if err != nil {
		return result, fmt.Errorf("clawback commission: %w", err)
	}
	if refreshed, getErr := s.orders.GetByID(ctx, current.OrderID); getErr == nil {
		result.Order = refreshed
	}
	return result, nil
}

// replayCancellation reports an already cancelled order, finishing a clawback
// that an earlier run did not get to.
func (s *Service) replayCancellation(ctx context.Context, order domain.Order, cause error) (CancellationResult, error) {
	result := CancellationResult{
		Order:    order,
		Refunded: order.PaymentStatus == domain.PaymentStatusRefunded,
		Clawback: domain.CommissionAlreadyApplied,
	}
	if order.CommissionState != domain.CommissionStateAccrued {
		return result, cause
	}
	outcome, amount, err := s.clawbackCommission(ctx, order)
	if err != nil {
		return result, fmt.Errorf("clawback commission: %w", err)
	}
	result.Clawback, result.ClawbackAmount = outcome, amount
	return result, cause
}

func (s *Service) clawbackCommission(ctx context.Context, order domain.Order) (domain.CommissionOutcome, int64, error) {
	if !order.HasPartner() {
		return domain.CommissionNotApplicable, 0, nil
	}
	if order.CommissionState != domain.CommissionStateAccrued {
		return domain.CommissionNotApplicable, 0, nil
	}
	outcome, reversed, err := s.commissions.Clawback(ctx, ports.ClawbackParams{
		OrderID:       order.OrderID,
		PartnerLinkID: order.PartnerLinkID,
		At:            s.nowFn(),
	})
	if err != nil {
		return "", 0, err
	}
	if recomputed := domain.CalculateCommission(order.Items, s.cfg.CommissionRate); recomputed != reversed && outcome == domain.CommissionApplied {
		s.logger.WarnContext(ctx, "commission drift on clawback",
			"operation", "clawback_commission",
			"outcome", "drift",
			"order_id", order.OrderID,
			"partner_link_id", order.PartnerLinkID,
			"reversed", reversed,
			"recomputed", recomputed,
		)
	}
	switch outcome {
	case domain.CommissionApplied:
		s.telemetry.RecordSettlement(ctx, "settlement.commission.reversed", "applied", reversed)
		s.enqueueCommissionEvent(ctx, domain.EventPartnerCommissionReversed, order, reversed)
	case domain.CommissionLinkMissing:
		s.logger.WarnContext(ctx, "clawback skipped",
			"operation", "clawback_commission",
			"outcome", "skipped",
			"order_id", order.OrderID,
			"partner_link_id", order.PartnerLinkID,
			"error", domain.ErrPartnerUnresolvable,
		)
	}
	return outcome, reversed, nil
}

// AbandonPendingOrder lets the owner drop an order that never reached payment.
func (s *Service) AbandonPendingOrder(ctx context.Context, actor Actor, orderRef string) (domain.Order, error) {
	order, err := s.orders.GetByRef(ctx, strings.TrimSpace(orderRef))
	if err != nil {
		return domain.Order{}, err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return domain.Order{}, err
	}
	if err := domain.EvaluateAbandon(order); err != nil {
		return order, err
	}
	applied, err := s.orders.Abandon(ctx, order.OrderID, s.nowFn())
	if err != nil {
		return order, err
	}
	current, err := s.orders.GetByID(ctx, order.OrderID)
	if err != nil {
		return order, err
	}
	if !applied {
		if err := domain.EvaluateAbandon(current); err != nil {
			return current, err
		}
		return current, fmt.Errorf("%w: order changed concurrently", domain.ErrConflict)
	}
	s.enqueueOrderEvent(ctx, domain.EventOrderCancelled, current)
	return current, nil
}
