package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

// RequestPayout moves an accrued commission to the partner's registered payout
// destination. Ineligible partners and short balances come back as a skipped
// outcome, not an error.
func (s *Service) RequestPayout(ctx context.Context, input PayoutInput) (outcome domain.PayoutOutcome, err error) {
	if s.payouts == nil {
		return domain.PayoutOutcome{}, fmt.Errorf("%w: payout gateway not configured", domain.ErrDependencyUnavailable)
	}
	ctx, done := s.telemetry.TrackOperation(ctx, "payout.request", map[string]string{
		"order_ref":       input.OrderRef,
		"partner_link_id": input.PartnerLinkID,
	})
	defer func() {
		done(err)
		result := string(outcome.Status)
		if err != nil {
			result = "failed"
		}
		s.telemetry.RecordSettlement(ctx, "settlement.payouts", result, input.Amount)
	}()

	if input.Amount <= 0 {
		return s.skipPayout(ctx, input, domain.Skipped(domain.SkipReasonNonPositiveAmount)), nil
	}
	link, err := s.partnerLinks.GetByID(ctx, input.PartnerLinkID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.skipPayout(ctx, input, domain.Skipped(domain.SkipReasonPartnerUnresolvable)), nil
	}
	if err != nil {
		return domain.PayoutOutcome{}, err
	}
	reg, err := s.registrations.GetByUserID(ctx, link.PartnerID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.skipPayout(ctx, input, domain.Skipped(domain.SkipReasonRegistrationMissing)), nil
	}
	if err != nil {
		return domain.PayoutOutcome{}, err
	}
	if reason := domain.PayoutEligibility(reg); reason != "" {
		return s.skipPayout(ctx, input, domain.Skipped(reason)), nil
	}

	if s.cfg.PayoutBalanceCheck {
		balance, balErr := s.payouts.Balance(ctx)
		switch {
		case balErr != nil:
			s.logger.WarnContext(ctx, "payout balance check failed, submitting anyway",
				"operation", "request_payout",
				"outcome", "degraded",
				"order_ref", input.OrderRef,
				"error", balErr,
			)
		case balance.AvailableAmount < input.Amount:
			skipped := domain.Skipped(domain.SkipReasonInsufficientBalance)
			skipped.AvailableAmount = balance.AvailableAmount
			skipped.RequiredAmount = input.Amount
			return s.skipPayout(ctx, input, skipped), nil
		}
	}

	now := s.nowFn()
	refPayoutID := s.refPayoutID(ctx, input.OrderRef)
	receipt, err := s.payouts.SubmitPayout(ctx, domain.PayoutRequest{
		RefPayoutID:            refPayoutID,
		Destination:            reg.SellerID,
		ScheduleType:           domain.PayoutScheduleScheduled,
		PayoutDate:             domain.PayoutDate(now),
		Amount:                 domain.PayoutAmount{Currency: s.cfg.Currency, Value: input.Amount},
		TransactionDescription: domain.PayoutDescription,
		Metadata: map[string]string{
			"partnerLinkId": input.PartnerLinkID,
			"orderId":       input.OrderRef,
		},
	})
	if err != nil {
		return domain.PayoutOutcome{RefPayoutID: refPayoutID}, err
	}
	outcome = domain.PayoutOutcome{
		Status:      domain.PayoutDispatched,
		RefPayoutID: refPayoutID,
		Receipt:     &receipt,
	}
	s.enqueuePayoutEvent(ctx, input, outcome)
	s.logger.InfoContext(ctx, "payout requested",
		"operation", "request_payout",
		"outcome", "success",
		"order_ref", input.OrderRef,
		"partner_link_id", input.PartnerLinkID,
		"ref_payout_id", refPayoutID,
		"payout_status", receipt.Status,
		"amount", input.Amount,
	)
	return outcome, nil
}

func (s *Service) skipPayout(ctx context.Context, input PayoutInput, outcome domain.PayoutOutcome) domain.PayoutOutcome {
	s.enqueuePayoutEvent(ctx, input, outcome)
	s.logger.InfoContext(ctx, "payout skipped",
		"operation", "request_payout",
		"outcome", "skipped",
		"order_ref", input.OrderRef,
		"partner_link_id", input.PartnerLinkID,
		"skip_reason", outcome.SkipReason,
		"available_amount", outcome.AvailableAmount,
		"required_amount", outcome.RequiredAmount,
	)
	return outcome
}

// refPayoutID returns the id already pinned for orderRef, pinning a fresh one if none is.
func (s *Service) refPayoutID(ctx context.Context, orderRef string) string {
	candidate := domain.NewRefPayoutID(orderRef, s.nowFn())
	if s.payoutAttempts == nil {
		return candidate
	}
	pinned, err := s.payoutAttempts.ReserveRefPayoutID(ctx, orderRef, candidate, s.cfg.PayoutAttemptTTL)
	if err != nil || pinned == "" {
		s.logger.WarnContext(ctx, "payout attempt store unavailable",
			"operation", "ref_payout_id",
			"outcome", "degraded",
			"order_ref", orderRef,
			"error", err,
		)
		return candidate
	}
	return pinned
}

// dispatchPayoutAsync runs RequestPayout detached from the caller. Its result
// is logged only and never reaches the confirmation response.
func (s *Service) dispatchPayoutAsync(ctx context.Context, input PayoutInput) {
	if !s.cfg.PayoutsEnabled || s.payouts == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	s.payoutWG.Add(1)
	go func() {
		defer s.payoutWG.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.ErrorContext(detached, "payout dispatch panicked",
					"operation", "dispatch_payout",
					"outcome", "failure",
					"order_ref", input.OrderRef,
					"panic", fmt.Sprint(rec),
				)
			}
		}()
		outcome, err := s.RequestPayout(detached, input)
		if err != nil {
			fields := []any{
				"operation", "dispatch_payout",
				"outcome", "failure",
				"order_ref", input.OrderRef,
				"partner_link_id", input.PartnerLinkID,
				"ref_payout_id", outcome.RefPayoutID,
				"error", err,
			}
			if errors.Is(err, domain.ErrDecryptionFailed) {
				fields = append(fields, "sealed_response", true)
			}
			s.logger.WarnContext(detached, "payout dispatch failed", fields...)
		}
	}()
}

// WaitForPayouts blocks until detached payout dispatches finish or ctx ends.
func (s *Service) WaitForPayouts(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.payoutWG.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RedrivePayout re-submits the payout for an order whose commission is accrued.
// The pinned refPayoutId keeps the gateway from paying the same order twice.
func (s *Service) RedrivePayout(ctx context.Context, actor Actor, orderRef string) (domain.PayoutOutcome, error) {
	if !actor.IsAdmin() {
		return domain.PayoutOutcome{}, domain.ErrForbidden
	}
	order, err := s.orders.GetByRef(ctx, strings.TrimSpace(orderRef))
	if err != nil {
		return domain.PayoutOutcome{}, err
	}
	if order.CommissionState != domain.CommissionStateAccrued {
		return domain.PayoutOutcome{}, fmt.Errorf("%w: order has no accrued commission", domain.ErrConflict)
	}
	return s.RequestPayout(ctx, PayoutInput{
		PartnerLinkID: order.PartnerLinkID,
		Amount:        order.CommissionAmount,
		OrderRef:      order.OrderRef,
	})
}

func (s *Service) PayoutBalance(ctx context.Context, actor Actor) (domain.Balance, error) {
	if !actor.IsAdmin() {
		return domain.Balance{}, domain.ErrForbidden
	}
	if s.payouts == nil {
		return domain.Balance{}, fmt.Errorf("%w: payout gateway not configured", domain.ErrDependencyUnavailable)
	}
	return s.payouts.Balance(ctx)
}
