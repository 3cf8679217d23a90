package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

const (
	confirmFailedMessage = "payment processing failed"
	maxBodyBytes         = 1 << 20
)

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func (h *Handler) failWith(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, code, msg := mapDomainError(err)
	logHTTPOperationError(r.Context(), operation, status, code, msg, err)
	writeError(w, status, code, msg)
}

type confirmPaymentRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// confirmPayment handles the client's return from the payment window. Failure
// details stay in the logs; the client only sees a generic message.
func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
		return
	}
	var req confirmPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	result, err := h.service.ConfirmOrderPayment(r.Context(), actor, application.ConfirmPaymentInput{
		OrderRef:   req.OrderID,
		PaymentKey: req.PaymentKey,
		Amount:     req.Amount,
		UserEmail:  actor.Email,
	})
	if err != nil {
		status, code, msg := mapDomainError(err)
		logHTTPOperationError(r.Context(), "confirm_payment", status, code, msg, err)
		writeError(w, status, code, confirmFailedMessage)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

type webhookRequest struct {
	EventType string `json:"eventType"`
	Data      struct {
		PaymentKey  string `json:"paymentKey"`
		OrderID     string `json:"orderId"`
		Status      string `json:"status"`
		TotalAmount int64  `json:"totalAmount"`
	} `json:"data"`
}

// paymentWebhook acknowledges every notification except those that failed on
// a transient dependency, which get a 503 so the gateway redelivers them.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logHTTPOperationError(r.Context(), "payment_webhook", http.StatusOK, "MALFORMED_WEBHOOK", "webhook body ignored", err)
		writeSuccess(w, http.StatusOK, application.WebhookOutcome{Handled: false, Result: "malformed"})
		return
	}
	outcome, err := h.service.HandleGatewayWebhook(r.Context(), application.GatewayWebhook{
		EventType:  req.EventType,
		PaymentKey: req.Data.PaymentKey,
		OrderRef:   req.Data.OrderID,
		Status:     req.Data.Status,
		Amount:     req.Data.TotalAmount,
	})
	if err != nil && domain.IsTransient(err) {
		logHTTPOperationError(r.Context(), "payment_webhook", http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "webhook will be redelivered", err)
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable")
		return
	}
	if err != nil {
		logHTTPOperationError(r.Context(), "payment_webhook", http.StatusOK, outcome.Result, "webhook rejected", err)
	}
	writeSuccess(w, http.StatusOK, outcome)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
		return
	}
	var req application.PlaceOrderInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	order, err := h.service.PlaceOrder(r.Context(), actor, req)
	if err != nil {
		h.failWith(w, r, "place_order", err)
		return
	}
	writeSuccess(w, http.StatusCreated, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
		return
	}
	order, err := h.service.GetOrder(r.Context(), actor, chi.URLParam(r, "order"))
	if err != nil {
		h.failWith(w, r, "get_order", err)
		return
	}
	writeSuccess(w, http.StatusOK, order)
}

// cancelOrder surfaces gateway rejections with the gateway's own message.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
			return
		}
	}
	result, err := h.service.CancelOrder(r.Context(), actor, application.CancelOrderInput{
		OrderID: chi.URLParam(r, "order"),
		Reason:  body.Reason,
	})
	if err != nil {
		h.failWith(w, r, "cancel_order", err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

func (h *Handler) cancelAfterCapture(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
		return
	}
	var req application.CancelAfterCaptureInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	req.OrderID = chi.URLParam(r, "order")
	result, err := h.service.CancelAfterCapture(r.Context(), actor, req)
	if err != nil {
		h.failWith(w, r, "cancel_after_capture", err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

func (h *Handler) abandonOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
		return
	}
	order, err := h.service.AbandonPendingOrder(r.Context(), actor, chi.URLParam(r, "order"))
	if err != nil {
		h.failWith(w, r, "abandon_order", err)
		return
	}
	writeSuccess(w, http.StatusOK, order)
}

func (h *Handler) payoutBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
		return
	}
	balance, err := h.service.PayoutBalance(r.Context(), actor)
	if err != nil {
		h.failWith(w, r, "payout_balance", err)
		return
	}
	writeSuccess(w, http.StatusOK, balance)
}

func (h *Handler) redrivePayout(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
		return
	}
	var body struct {
		OrderRef string `json:"order_ref"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.OrderRef) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "order_ref is required")
		return
	}
	outcome, err := h.service.RedrivePayout(r.Context(), actor, body.OrderRef)
	if err != nil {
		h.failWith(w, r, "redrive_payout", err)
		return
	}
	status := http.StatusAccepted
	if outcome.Status == domain.PayoutSkipped {
		status = http.StatusOK
	}
	writeSuccess(w, status, outcome)
}
