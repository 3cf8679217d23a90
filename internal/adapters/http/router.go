package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/application"
)

// ReadinessCheck reports whether the service's backing stores are reachable.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	service *application.Service
	ready   ReadinessCheck
}

func NewHandler(service *application.Service, ready ReadinessCheck) *Handler {
	return &Handler{service: service, ready: ready}
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeMessage(w, http.StatusOK, "ok") })
	r.Get("/readyz", handler.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/payments", handler.paymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/payments/confirm", handler.confirmPayment)

			r.Post("/orders", handler.placeOrder)
			r.Get("/orders/{order}", handler.getOrder)
			r.Post("/orders/{order}/cancel", handler.cancelOrder)
			r.Post("/orders/{order}/cancel-after-capture", handler.cancelAfterCapture)
			r.Post("/orders/{order}/abandon", handler.abandonOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Get("/payouts/balance", handler.payoutBalance)
			r.Post("/payouts", handler.redrivePayout)
		})
	})
	return r
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}
