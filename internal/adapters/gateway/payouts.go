package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
	"golang.org/x/time/rate"
)

const securityModeHeader = "TossPayments-api-security-mode"

type PayoutConfig struct {
	Config
	RequestsPerSecond float64
	Burst             int
}

// PayoutClient talks to the payout API. Payout bodies travel sealed in both
// directions; balance reads are plain JSON.
type PayoutClient struct {
	c       *client
	sealer  ports.PayloadSealer
	limiter *rate.Limiter
}

func NewPayoutClient(cfg PayoutConfig, sealer ports.PayloadSealer, httpClient *http.Client) (*PayoutClient, error) {
	if sealer == nil {
		return nil, errors.New("payout sealer is required")
	}
	c, err := newClient(cfg.Config, httpClient)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &PayoutClient{c: c, sealer: sealer, limiter: rate.NewLimiter(limit, burst)}, nil
}

type payoutEnvelope struct {
	EntityBody struct {
		Items []domain.PayoutReceipt `json:"items"`
	} `json:"entityBody"`
	Error *errorBody `json:"error"`
}

func (p *PayoutClient) SubmitPayout(ctx context.Context, req domain.PayoutRequest) (domain.PayoutReceipt, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("%w: payout rate limit: %v", domain.ErrDependencyUnavailable, err)
	}
	plain, err := json.Marshal(req)
	if err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("encode payout request: %w", err)
	}
	sealed, err := p.sealer.Seal(plain)
	if err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("seal payout request: %w", err)
	}
	resp, err := p.c.do(ctx, http.MethodPost, "/v2/payouts", "text/plain", []byte(sealed), map[string]string{
		securityModeHeader: "ENCRYPTION",
	})
	if err != nil {
		return domain.PayoutReceipt{}, err
	}

	opened, openErr := p.sealer.Open(string(resp.Body))
	if !success(resp.StatusCode) {
		if openErr == nil {
			var env payoutEnvelope
			if json.Unmarshal(opened, &env) == nil && env.Error != nil {
				return domain.PayoutReceipt{}, &domain.GatewayError{StatusCode: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
			}
			return domain.PayoutReceipt{}, rejection(resp.StatusCode, opened)
		}
		return domain.PayoutReceipt{}, rejection(resp.StatusCode, resp.Body)
	}
	if openErr != nil {
		return domain.PayoutReceipt{}, openErr
	}
	var env payoutEnvelope
	if err := json.Unmarshal(opened, &env); err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("%w: decode payout response: %v", domain.ErrDecryptionFailed, err)
	}
	if len(env.EntityBody.Items) == 0 {
		return domain.PayoutReceipt{}, fmt.Errorf("%w: payout response has no items", domain.ErrDependencyUnavailable)
	}
	receipt := env.EntityBody.Items[0]
	if receipt.Error != nil && receipt.Status == domain.PayoutStatusFailed {
		return receipt, &domain.GatewayError{StatusCode: resp.StatusCode, Code: receipt.Error.Code, Message: receipt.Error.Message}
	}
	return receipt, nil
}

type balanceEnvelope struct {
	EntityBody struct {
		AvailableAmount struct {
			Currency string `json:"currency"`
			Value    int64  `json:"value"`
		} `json:"availableAmount"`
		PendingAmount struct {
			Value int64 `json:"value"`
		} `json:"pendingAmount"`
	} `json:"entityBody"`
}

func (p *PayoutClient) Balance(ctx context.Context) (domain.Balance, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Balance{}, fmt.Errorf("%w: payout rate limit: %v", domain.ErrDependencyUnavailable, err)
	}
	resp, err := p.c.do(ctx, http.MethodGet, "/v2/balances", "", nil, nil)
	if err != nil {
		return domain.Balance{}, err
	}
	if !success(resp.StatusCode) {
		return domain.Balance{}, rejection(resp.StatusCode, resp.Body)
	}
	var env balanceEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return domain.Balance{}, fmt.Errorf("%w: decode balance response: %v", domain.ErrDependencyUnavailable, err)
	}
	currency := env.EntityBody.AvailableAmount.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return domain.Balance{
		AvailableAmount: env.EntityBody.AvailableAmount.Value,
		PendingAmount:   env.EntityBody.PendingAmount.Value,
		Currency:        currency,
	}, nil
}

var _ ports.PayoutGateway = (*PayoutClient)(nil)
