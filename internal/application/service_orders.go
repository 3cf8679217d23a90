package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

func (s *Service) PlaceOrder(ctx context.Context, actor Actor, input PlaceOrderInput) (domain.Order, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.Order{}, domain.ErrUnauthorized
	}
	input.PaymentMethod = strings.ToLower(strings.TrimSpace(input.PaymentMethod))
	if input.PaymentMethod == "" {
		input.PaymentMethod = domain.PaymentMethodCard
	}
	input.PartnerLinkID = strings.TrimSpace(input.PartnerLinkID)
	if err := domain.ValidateNewOrder(input.Items, input.TotalAmount, input.PaymentMethod); err != nil {
		return domain.Order{}, err
	}

	requestHash := hashRequest(map[string]any{"op": "place_order", "user_id": actor.SubjectID, "input": input})
	var cached domain.Order
	if replayed, err := s.replayIdempotent(ctx, actor.IdempotencyKey, requestHash, &cached); err != nil || replayed {
		return cached, err
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return domain.Order{}, err
	}

	entropy := make([]byte, 9)
	if err := s.entropyFn(entropy); err != nil {
		s.finishIdempotency(ctx, actor.IdempotencyKey, 0, nil, err)
		return domain.Order{}, fmt.Errorf("generate order ref: %w", err)
	}
	now := s.nowFn()
	items := make([]domain.LineItem, 0, len(input.Items))
	for _, item := range input.Items {
		item.ItemID = uuid.NewString()
		item.ProductID = strings.TrimSpace(item.ProductID)
		items = append(items, item)
	}
	order, err := s.orders.Create(ctx, ports.CreateOrderParams{
		OrderID:       uuid.NewString(),
		OrderRef:      domain.NewOrderRef(now, entropy),
		UserID:        actor.SubjectID,
		PaymentMethod: input.PaymentMethod,
		PaymentStatus: domain.InitialPaymentStatus(input.PaymentMethod),
		TotalAmount:   input.TotalAmount,
		Currency:      s.cfg.Currency,
		PartnerLinkID: input.PartnerLinkID,
		Items:         items,
		CreatedAt:     now,
	})
	s.finishIdempotency(ctx, actor.IdempotencyKey, 201, order, err)
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.InfoContext(ctx, "order placed",
		"operation", "place_order",
		"outcome", "success",
		"order_id", order.OrderID,
		"order_ref", order.OrderRef,
		"partner_link_id", order.PartnerLinkID,
	)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, actor Actor, orderRef string) (domain.Order, error) {
	order, err := s.orders.GetByRef(ctx, strings.TrimSpace(orderRef))
	if err != nil {
		return domain.Order{}, err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}
