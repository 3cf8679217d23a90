package ports

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

// PaymentGateway confirms and cancels captured payments. Rejections come back
// as *domain.GatewayError; transport failures wrap domain.ErrDependencyUnavailable.
type PaymentGateway interface {
	ConfirmPayment(ctx context.Context, paymentKey, orderRef string, amount int64) (domain.GatewayReceipt, error)
	CancelPayment(ctx context.Context, paymentKey, reason string) (domain.GatewayCancelReceipt, error)
}

type PayoutGateway interface {
	SubmitPayout(ctx context.Context, req domain.PayoutRequest) (domain.PayoutReceipt, error)
	Balance(ctx context.Context) (domain.Balance, error)
}
