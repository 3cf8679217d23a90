package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

type PaymentClient struct {
	c *client
}

func NewPaymentClient(cfg Config, httpClient *http.Client) (*PaymentClient, error) {
	c, err := newClient(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	return &PaymentClient{c: c}, nil
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type paymentResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	Method      string `json:"method"`
	TotalAmount int64  `json:"totalAmount"`
	ApprovedAt  string `json:"approvedAt"`
	Cancels     []struct {
		CanceledAt string `json:"canceledAt"`
	} `json:"cancels"`
}

func (p *PaymentClient) ConfirmPayment(ctx context.Context, paymentKey, orderRef string, amount int64) (domain.GatewayReceipt, error) {
	resp, err := p.c.postJSON(ctx, "/v1/payments/confirm", confirmRequest{
		PaymentKey: paymentKey,
		OrderID:    orderRef,
		Amount:     amount,
	})
	if err != nil {
		return domain.GatewayReceipt{}, err
	}
	if !success(resp.StatusCode) {
		return domain.GatewayReceipt{}, rejection(resp.StatusCode, resp.Body)
	}
	var out paymentResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.GatewayReceipt{}, fmt.Errorf("%w: decode confirm response: %v", domain.ErrDependencyUnavailable, err)
	}
	return domain.GatewayReceipt{
		PaymentKey:  out.PaymentKey,
		OrderID:     out.OrderID,
		Status:      out.Status,
		Method:      out.Method,
		TotalAmount: out.TotalAmount,
		ApprovedAt:  parseGatewayTime(out.ApprovedAt),
	}, nil
}

func (p *PaymentClient) CancelPayment(ctx context.Context, paymentKey, reason string) (domain.GatewayCancelReceipt, error) {
	path := "/v1/payments/" + url.PathEscape(paymentKey) + "/cancel"
	resp, err := p.c.postJSON(ctx, path, map[string]string{"cancelReason": reason})
	if err != nil {
		return domain.GatewayCancelReceipt{}, err
	}
	if !success(resp.StatusCode) {
		return domain.GatewayCancelReceipt{}, rejection(resp.StatusCode, resp.Body)
	}
	var out paymentResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.GatewayCancelReceipt{}, fmt.Errorf("%w: decode cancel response: %v", domain.ErrDependencyUnavailable, err)
	}
	receipt := domain.GatewayCancelReceipt{
		PaymentKey: out.PaymentKey,
		OrderID:    out.OrderID,
		Status:     out.Status,
	}
	if n := len(out.Cancels); n > 0 {
		receipt.CancelledAt = parseGatewayTime(out.Cancels[n-1].CanceledAt)
	}
	return receipt, nil
}

func parseGatewayTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

var _ ports.PaymentGateway = (*PaymentClient)(nil)
