package application

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

type Service struct {
	cfg            Config
	orders         ports.OrderRepository
	commissions    ports.CommissionLedger
	partnerLinks   ports.PartnerLinkRepository
	registrations  ports.BusinessRegistrationRepository
	outbox         ports.OutboxRepository
	eventDedup     ports.EventDedupRepository
	idempotency    ports.IdempotencyRepository
	payments       ports.PaymentGateway
	payouts        ports.PayoutGateway
	payoutAttempts ports.PayoutAttemptStore
	tokens         ports.TokenVerifier
	telemetry      ports.Telemetry
	logger         *slog.Logger
	nowFn          func() time.Time
	entropyFn      func([]byte) error

	payoutWG sync.WaitGroup
}

type Dependencies struct {
	Config         Config
	Orders         ports.OrderRepository
	Commissions    ports.CommissionLedger
	PartnerLinks   ports.PartnerLinkRepository
	Registrations  ports.BusinessRegistrationRepository
	Outbox         ports.OutboxRepository
	EventDedup     ports.EventDedupRepository
	Idempotency    ports.IdempotencyRepository
	Payments       ports.PaymentGateway
	Payouts        ports.PayoutGateway
	PayoutAttempts ports.PayoutAttemptStore
	Tokens         ports.TokenVerifier
	Telemetry      ports.Telemetry
	Logger         *slog.Logger
	Clock          func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "M92-Order-Settlement-Service"
	}
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	if !cfg.CommissionRate.IsPositive() {
		cfg.CommissionRate = domain.DefaultCommissionRate
	}
	if cfg.DefaultCancelReason == "" {
		cfg.DefaultCancelReason = "customer request"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.PayoutAttemptTTL <= 0 {
		cfg.PayoutAttemptTTL = 72 * time.Hour
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	telemetry := deps.Telemetry
	if telemetry == nil {
		telemetry = noopTelemetry{}
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		cfg:            cfg,
		orders:         deps.Orders,
		commissions:    deps.Commissions,
		partnerLinks:   deps.PartnerLinks,
		registrations:  deps.Registrations,
		outbox:         deps.Outbox,
		eventDedup:     deps.EventDedup,
		idempotency:    deps.Idempotency,
		payments:       deps.Payments,
		payouts:        deps.Payouts,
		payoutAttempts: deps.PayoutAttempts,
		tokens:         deps.Tokens,
		telemetry:      telemetry,
		logger:         logger.With("module", "application", "layer", "service"),
		nowFn:          nowFn,
		entropyFn: func(b []byte) error {
			_, err := rand.Read(b)
			return err
		},
	}
}
