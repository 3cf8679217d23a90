package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

type tokenTable map[string]ports.AuthClaims

func (t tokenTable) Verify(_ context.Context, token string) (ports.AuthClaims, error) {
	claims, ok := t[token]
	if !ok {
		return ports.AuthClaims{}, errors.New("unknown token")
	}
	return claims, nil
}

type stubPayments struct {
	confirmErr   error
	cancelErr    error
	confirmCalls int
}

func (p *stubPayments) ConfirmPayment(_ context.Context, paymentKey, orderRef string, amount int64) (domain.GatewayReceipt, error) {
	p.confirmCalls++
	if p.confirmErr != nil {
		return domain.GatewayReceipt{}, p.confirmErr
	}
	return domain.GatewayReceipt{PaymentKey: paymentKey, OrderID: orderRef, Status: domain.GatewayPaymentDone, TotalAmount: amount}, nil
}

func (p *stubPayments) CancelPayment(_ context.Context, paymentKey, _ string) (domain.GatewayCancelReceipt, error) {
	if p.cancelErr != nil {
		return domain.GatewayCancelReceipt{}, p.cancelErr
	}
	return domain.GatewayCancelReceipt{PaymentKey: paymentKey, Status: domain.GatewayPaymentCanceled}, nil
}

type fixture struct {
	service  *application.Service
	payments *stubPayments
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memory.NewRepositories()
	payments := &stubPayments{}
	service := application.NewService(application.Dependencies{
		Orders:        repos.Orders,
		Commissions:   repos.Commissions,
		PartnerLinks:  repos.PartnerLinks,
		Registrations: repos.Registrations,
		Outbox:        repos.Outbox,
		EventDedup:    repos.EventDedup,
		Idempotency:   repos.Idempotency,
		Payments:      payments,
		Tokens: tokenTable{
			"buyer-token": {UserID: "buyer-1", Email: "buyer@example.com", Role: "user", Valid: true},
			"other-token": {UserID: "buyer-2", Role: "user", Valid: true},
			"admin-token": {UserID: "admin-1", Role: "admin", Valid: true},
		},
	})
	server := httptest.NewServer(NewRouter(NewHandler(service, nil)))
	t.Cleanup(server.Close)
	return &fixture{service: service, payments: payments, server: server}
}

func (f *fixture) placeOrder(t *testing.T) domain.Order {
	t.Helper()
	order, err := f.service.PlaceOrder(context.Background(), application.Actor{SubjectID: "buyer-1"}, application.PlaceOrderInput{
		Items:       []domain.LineItem{{ProductID: "prod-1", Title: "tea", Quantity: 2, UnitPrice: 5000}},
		TotalAmount: 10000,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/v1/orders/ORD-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	status, _ = f.do(t, http.MethodGet, "/v1/orders/ORD-1", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPlaceOrderAndOwnerOnlyRead(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/v1/orders", "buyer-token",
		`{"items":[{"product_id":"prod-1","title":"tea","quantity":1,"unit_price":3000}],"total_amount":3000}`)
	require.Equal(t, http.StatusCreated, status)
	data := body["data"].(map[string]any)
	ref := data["order_ref"].(string)
	assert.Equal(t, "pending", data["payment_status"])

	status, _ = f.do(t, http.MethodGet, "/v1/orders/"+ref, "buyer-token", "")
	assert.Equal(t, http.StatusOK, status)
	status, body = f.do(t, http.MethodGet, "/v1/orders/"+ref, "other-token", "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])
	status, _ = f.do(t, http.MethodGet, "/v1/orders/"+ref, "admin-token", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestConfirmFailureShowsGenericMessage(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	f.payments.confirmErr = &domain.GatewayError{StatusCode: 400, Code: "REJECT_CARD_COMPANY", Message: "카드사에서 거절했습니다."}

	status, body := f.do(t, http.MethodPost, "/v1/payments/confirm", "buyer-token",
		`{"paymentKey":"pk_1","orderId":"`+order.OrderRef+`","amount":10000}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "GATEWAY_REJECTED", body["code"])
	assert.Equal(t, "payment processing failed", body["message"])
}

func TestConfirmSucceedsAndReplays(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	payload := `{"paymentKey":"pk_1","orderId":"` + order.OrderRef + `","amount":10000}`

	status, body := f.do(t, http.MethodPost, "/v1/payments/confirm", "buyer-token", payload)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["already_processed"])

	status, body = f.do(t, http.MethodPost, "/v1/payments/confirm", "buyer-token", payload)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]any)["already_processed"])
}

func TestConfirmRejectsOtherUsersOrder(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	payload := `{"paymentKey":"pk_1","orderId":"` + order.OrderRef + `","amount":10000}`

	status, body := f.do(t, http.MethodPost, "/v1/payments/confirm", "other-token", payload)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])
	assert.Equal(t, "payment processing failed", body["message"])
	assert.Zero(t, f.payments.confirmCalls)

	status, _ = f.do(t, http.MethodPost, "/v1/payments/confirm", "admin-token", payload)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, f.payments.confirmCalls)
}

func TestCancelFailureShowsGatewayMessageVerbatim(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	_, err := f.service.ProcessPaymentConfirmation(context.Background(), application.ConfirmPaymentInput{
		OrderRef: order.OrderRef, PaymentKey: "pk_1", Amount: 10000,
	})
	require.NoError(t, err)
	f.payments.cancelErr = &domain.GatewayError{StatusCode: 403, Code: "NOT_CANCELABLE_PAYMENT", Message: "취소 할 수 없는 결제 입니다."}

	status, body := f.do(t, http.MethodPost, "/v1/orders/"+order.OrderID+"/cancel", "buyer-token", `{"reason":"changed mind"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "취소 할 수 없는 결제 입니다.", body["message"])
}

func TestCancelRefundsPaidOrder(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	_, err := f.service.ProcessPaymentConfirmation(context.Background(), application.ConfirmPaymentInput{
		OrderRef: order.OrderRef, PaymentKey: "pk_1", Amount: 10000,
	})
	require.NoError(t, err)

	status, body := f.do(t, http.MethodPost, "/v1/orders/"+order.OrderID+"/cancel", "buyer-token", "")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["refunded"])
	assert.Equal(t, "cancelled", data["order"].(map[string]any)["status"])

	status, body = f.do(t, http.MethodPost, "/v1/orders/"+order.OrderID+"/cancel", "buyer-token", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_CANCELLED", body["code"])
}

func TestWebhookAcknowledgesRejectionsAndRetriesTransient(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	status, body := f.do(t, http.MethodPost, "/v1/webhooks/payments", "",
		`{"eventType":"PAYMENT_STATUS_CHANGED","data":{"paymentKey":"pk_1","orderId":"`+order.OrderRef+`","status":"DONE","totalAmount":1}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "amount_mismatch", body["data"].(map[string]any)["result"])

	status, body = f.do(t, http.MethodPost, "/v1/webhooks/payments", "",
		`{"eventType":"PAYMENT_STATUS_CHANGED","data":{"paymentKey":"pk_1","orderId":"`+order.OrderRef+`","status":"WAITING_FOR_DEPOSIT","totalAmount":10000}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ignored", body["data"].(map[string]any)["result"])

	f.payments.confirmErr = domain.ErrDependencyUnavailable
	status, _ = f.do(t, http.MethodPost, "/v1/webhooks/payments", "",
		`{"eventType":"PAYMENT_STATUS_CHANGED","data":{"paymentKey":"pk_1","orderId":"`+order.OrderRef+`","status":"DONE","totalAmount":10000}}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	f.payments.confirmErr = nil
	status, body = f.do(t, http.MethodPost, "/v1/webhooks/payments", "",
		`{"eventType":"PAYMENT_STATUS_CHANGED","data":{"paymentKey":"pk_1","orderId":"`+order.OrderRef+`","status":"DONE","totalAmount":10000}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "confirmed", body["data"].(map[string]any)["result"])
}

func TestWebhookMalformedBodyIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/v1/webhooks/payments", "", `not json`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "malformed", body["data"].(map[string]any)["result"])
}

func TestAdminPayoutRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/v1/admin/payouts/balance", "buyer-token", "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])

	status, body = f.do(t, http.MethodGet, "/v1/admin/payouts/balance", "admin-token", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "SERVICE_UNAVAILABLE", body["code"])

	status, _ = f.do(t, http.MethodPost, "/v1/admin/payouts", "admin-token", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReadyzReportsDependencyFailure(t *testing.T) {
	handler := NewRouter(NewHandler(nil, func(context.Context) error { return errors.New("db down") }))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
