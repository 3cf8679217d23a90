package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

// ConfirmOrderPayment is the client callback entry. Only the order's owner or
// an admin may confirm its payment.
func (s *Service) ConfirmOrderPayment(ctx context.Context, actor Actor, input ConfirmPaymentInput) (ConfirmationResult, error) {
	order, err := s.orders.GetByRef(ctx, strings.TrimSpace(input.OrderRef))
	if err != nil {
		return ConfirmationResult{}, err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return ConfirmationResult{}, err
	}
	if input.UserEmail == "" {
		input.UserEmail = actor.Email
	}
	return s.ProcessPaymentConfirmation(ctx, input)
}

// ProcessPaymentConfirmation confirms orderRef's payment with the gateway,
// records it on the order and accrues partner commission. Redelivery of the
// same (orderRef, paymentKey, amount) returns the stored order unchanged.
func (s *Service) ProcessPaymentConfirmation(ctx context.Context, input ConfirmPaymentInput) (result ConfirmationResult, err error) {
	input.OrderRef = strings.TrimSpace(input.OrderRef)
	input.PaymentKey = strings.TrimSpace(input.PaymentKey)
	if input.OrderRef == "" || input.PaymentKey == "" {
		return ConfirmationResult{}, fmt.Errorf("%w: order_ref and payment_key are required", domain.ErrInvalidInput)
	}

	ctx, done := s.telemetry.TrackOperation(ctx, "settlement.confirm", map[string]string{"order_ref": input.OrderRef})
	defer func() { done(err) }()

	order, err := s.orders.GetByRef(ctx, input.OrderRef)
	if err != nil {
		return ConfirmationResult{}, err
	}
	decision, err := domain.EvaluateConfirmation(order, input.PaymentKey, input.Amount)
	if err != nil {
		s.logConfirmFailure(ctx, input, err)
		return ConfirmationResult{Order: order}, err
	}
	if decision == domain.ConfirmAlreadyProcessed {
		return s.replayConfirmation(ctx, order)
	}

	receipt, err := s.payments.ConfirmPayment(ctx, input.PaymentKey, input.OrderRef, input.Amount)
	if err != nil {
		gwErr, ok := domain.AsGatewayError(err)
		if !ok || gwErr.Code != domain.GatewayCodeAlreadyProcessed {
			if replayed, raced := s.confirmedConcurrently(ctx, input); raced {
				return replayed, nil
			}
			s.logConfirmFailure(ctx, input, err)
			return ConfirmationResult{Order: order}, err
		}
		receipt = domain.GatewayReceipt{PaymentKey: input.PaymentKey, OrderID: input.OrderRef}
	}

	gatewayOrderID := receipt.OrderID
	if gatewayOrderID == "" {
		gatewayOrderID = input.OrderRef
	}
	applied, err := s.orders.MarkPaid(ctx, ports.MarkPaidParams{
		OrderID:        order.OrderID,
		PaymentKey:     input.PaymentKey,
		GatewayOrderID: gatewayOrderID,
		PaymentMethod:  receipt.Method,
		ConfirmedAt:    s.nowFn(),
	})
	if err != nil {
		return ConfirmationResult{Order: order}, err
	}
	if !applied {
		current, getErr := s.orders.GetByID(ctx, order.OrderID)
		if getErr != nil {
			return ConfirmationResult{Order: order}, getErr
		}
		d, evalErr := domain.EvaluateConfirmation(current, input.PaymentKey, input.Amount)
		if evalErr != nil {
			// The gateway captured the payment but the order moved on underneath us.
			s.logger.ErrorContext(ctx, "confirmed payment lost order transition",
				"operation", "process_payment_confirmation",
				"outcome", "failure",
				"order_id", current.OrderID,
				"order_ref", current.OrderRef,
				"error", evalErr,
			)
			return ConfirmationResult{Order: current}, evalErr
		}
		if d == domain.ConfirmAlreadyProcessed {
			return s.replayConfirmation(ctx, current)
		}
		return ConfirmationResult{Order: current}, fmt.Errorf("%w: order payment state changed concurrently", domain.ErrConflict)
	}

	order, err = s.orders.GetByID(ctx, order.OrderID)
	if err != nil {
		return ConfirmationResult{}, err
	}
	s.telemetry.RecordSettlement(ctx, "settlement.confirmations", "confirmed", order.TotalAmount)
	s.enqueueOrderEvent(ctx, domain.EventOrderConfirmed, order)
	s.logger.InfoContext(ctx, "payment confirmed",
		"operation", "process_payment_confirmation",
		"outcome", "success",
		"order_id", order.OrderID,
		"order_ref", order.OrderRef,
		"user_email", input.UserEmail,
	)

	outcome, amount, err := s.accrueCommission(ctx, order)
	if err != nil {
		return ConfirmationResult{Order: order}, fmt.Errorf("accrue commission: %w", err)
	}
	return ConfirmationResult{Order: order, Commission: outcome, CommissionAmount: amount}, nil
}

// replayConfirmation answers a duplicate delivery. Accrual is retried only if a
// previous run stopped between the payment write and the ledger write.
func (s *Service) replayConfirmation(ctx context.Context, order domain.Order) (ConfirmationResult, error) {
	result := ConfirmationResult{
		Order:            order,
		AlreadyProcessed: true,
		Commission:       domain.CommissionAlreadyApplied,
		CommissionAmount: order.CommissionAmount,
	}
	if !order.HasPartner() {
		result.Commission = domain.CommissionNotApplicable
		return result, nil
	}
	if order.CommissionState != domain.CommissionStateNone {
		return result, nil
	}
	outcome, amount, err := s.accrueCommission(ctx, order)
	if err != nil {
		return result, fmt.Errorf("accrue commission: %w", err)
	}
	if refreshed, getErr := s.orders.GetByID(ctx, order.OrderID); getErr == nil {
		result.Order = refreshed
	}
	result.Commission = outcome
	result.CommissionAmount = amount
	return result, nil
}

func (s *Service) confirmedConcurrently(ctx context.Context, input ConfirmPaymentInput) (ConfirmationResult, bool) {
	current, err := s.orders.GetByRef(ctx, input.OrderRef)
	if err != nil {
		return ConfirmationResult{}, false
	}
	d, err := domain.EvaluateConfirmation(current, input.PaymentKey, input.Amount)
	if err != nil || d != domain.ConfirmAlreadyProcessed {
		return ConfirmationResult{}, false
	}
	result, err := s.replayConfirmation(ctx, current)
	if err != nil {
		return ConfirmationResult{}, false
	}
	return result, true
}

// accrueCommission credits the order's partner link and, when the credit lands,
// hands the commission to the payout dispatcher without waiting for it.
func (s *Service) accrueCommission(ctx context.Context, order domain.Order) (domain.CommissionOutcome, int64, error) {
	if !order.HasPartner() {
		return domain.CommissionNotApplicable, 0, nil
	}
	if order.CommissionState != domain.CommissionStateNone {
		return domain.CommissionAlreadyApplied, order.CommissionAmount, nil
	}
	commission := domain.CalculateCommission(order.Items, s.cfg.CommissionRate)
	outcome, err := s.commissions.Accrue(ctx, ports.AccrueParams{
		OrderID:       order.OrderID,
		PartnerLinkID: order.PartnerLinkID,
		Commission:    commission,
		At:            s.nowFn(),
	})
	if err != nil {
		return "", 0, err
	}
	switch outcome {
	case domain.CommissionLinkMissing:
		s.logger.WarnContext(ctx, "commission skipped",
			"operation", "accrue_commission",
			"outcome", "skipped",
			"order_id", order.OrderID,
			"partner_link_id", order.PartnerLinkID,
			"error", domain.ErrPartnerUnresolvable,
		)
		return outcome, 0, nil
	case domain.CommissionApplied:
		s.telemetry.RecordSettlement(ctx, "settlement.commission.accrued", "applied", commission)
		s.enqueueCommissionEvent(ctx, domain.EventPartnerCommissionAccrued, order, commission)
		s.logger.InfoContext(ctx, "commission accrued",
			"operation", "accrue_commission",
			"outcome", "success",
			"order_id", order.OrderID,
			"partner_link_id", order.PartnerLinkID,
			"commission", commission,
		)
		s.dispatchPayoutAsync(ctx, PayoutInput{
			PartnerLinkID: order.PartnerLinkID,
			Amount:        commission,
			OrderRef:      order.OrderRef,
		})
		return outcome, commission, nil
	default:
		return outcome, 0, nil
	}
}

// HandleGatewayWebhook acts on payment status notifications. Only completed
// payments trigger a confirmation; other statuses are acknowledged.
func (s *Service) HandleGatewayWebhook(ctx context.Context, hook GatewayWebhook) (WebhookOutcome, error) {
	if strings.ToUpper(strings.TrimSpace(hook.Status)) != domain.GatewayPaymentDone {
		return WebhookOutcome{Handled: false, Result: "ignored"}, nil
	}
	result, err := s.ProcessPaymentConfirmation(ctx, ConfirmPaymentInput{
		OrderRef:   hook.OrderRef,
		PaymentKey: hook.PaymentKey,
		Amount:     hook.Amount,
	})
	switch {
	case err == nil && result.AlreadyProcessed:
		return WebhookOutcome{Handled: true, Result: "already_processed"}, nil
	case err == nil:
		return WebhookOutcome{Handled: true, Result: "confirmed"}, nil
	case domain.IsTransient(err):
		return WebhookOutcome{Handled: false, Result: "retry"}, err
	default:
		return WebhookOutcome{Handled: true, Result: webhookRejection(err)}, err
	}
}

func webhookRejection(err error) string {
	switch {
	case errors.Is(err, domain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, domain.ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, domain.ErrNotFound):
		return "order_not_found"
	case errors.Is(err, domain.ErrGatewayRejected):
		return "gateway_rejected"
	default:
		return "rejected"
	}
}

func (s *Service) logConfirmFailure(ctx context.Context, input ConfirmPaymentInput, err error) {
	level := s.logger.WarnContext
	if domain.IsTransient(err) {
		level = s.logger.ErrorContext
	}
	fields := []any{
		"operation", "process_payment_confirmation",
		"outcome", "failure",
		"order_ref", input.OrderRef,
		"error", err,
	}
	if gwErr, ok := domain.AsGatewayError(err); ok {
		fields = append(fields, "gateway_code", gwErr.Code, "gateway_status", gwErr.StatusCode)
	}
	level(ctx, "payment confirmation failed", fields...)
}
