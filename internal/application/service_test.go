package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

const (
	testLinkID    = "link-1"
	testPartnerID = "partner-1"
	testSellerID  = "seller-1"
	testBuyerID   = "buyer-1"
)

var harnessEpoch = time.Date(2026, 10, 14, 1, 0, 0, 0, time.UTC)

var buyer = Actor{SubjectID: testBuyerID, Email: "buyer@example.com", Role: "user"}

// tickingClock advances by step on every read so successive ids differ.
type tickingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type fakePayments struct {
	mu          sync.Mutex
	confirmErrs []error
	cancelErr   error
	confirmed   []string
	cancelled   []string
}

func (p *fakePayments) ConfirmPayment(_ context.Context, paymentKey, orderRef string, amount int64) (domain.GatewayReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, orderRef)
	if len(p.confirmErrs) > 0 {
		err := p.confirmErrs[0]
		p.confirmErrs = p.confirmErrs[1:]
		if err != nil {
			return domain.GatewayReceipt{}, err
		}
	}
	return domain.GatewayReceipt{
		PaymentKey:  paymentKey,
		OrderID:     orderRef,
		Status:      domain.GatewayPaymentDone,
		Method:      "카드",
		TotalAmount: amount,
	}, nil
}

func (p *fakePayments) CancelPayment(_ context.Context, paymentKey, reason string) (domain.GatewayCancelReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelErr != nil {
		return domain.GatewayCancelReceipt{}, p.cancelErr
	}
	p.cancelled = append(p.cancelled, reason)
	return domain.GatewayCancelReceipt{PaymentKey: paymentKey, Status: domain.GatewayPaymentCanceled}, nil
}

func (p *fakePayments) confirmCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.confirmed...)
}

func (p *fakePayments) cancelCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancelled...)
}

type fakePayouts struct {
	mu         sync.Mutex
	balance    domain.Balance
	balanceErr error
	submitErrs []error
	release    chan struct{}
	requests   []domain.PayoutRequest
}

func (p *fakePayouts) SubmitPayout(_ context.Context, req domain.PayoutRequest) (domain.PayoutReceipt, error) {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.submitErrs) > 0 {
		err := p.submitErrs[0]
		p.submitErrs = p.submitErrs[1:]
		if err != nil {
			return domain.PayoutReceipt{}, err
		}
	}
	return domain.PayoutReceipt{
		ID:          "payout-" + req.RefPayoutID,
		RefPayoutID: req.RefPayoutID,
		Destination: req.Destination,
		Amount:      req.Amount,
		Status:      domain.PayoutStatusRequested,
	}, nil
}

func (p *fakePayouts) Balance(context.Context) (domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, p.balanceErr
}

func (p *fakePayouts) submitted() []domain.PayoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PayoutRequest(nil), p.requests...)
}

// flakyLedger fails the next n ledger writes of a kind with a storage error.
type flakyLedger struct {
	ports.CommissionLedger
	mu           sync.Mutex
	failAccrue   int
	failClawback int
}

func (l *flakyLedger) Accrue(ctx context.Context, params ports.AccrueParams) (domain.CommissionOutcome, error) {
	l.mu.Lock()
	if l.failAccrue > 0 {
		l.failAccrue--
		l.mu.Unlock()
		return "", domain.ErrStorageUnavailable
	}
	l.mu.Unlock()
	return l.CommissionLedger.Accrue(ctx, params)
}

func (l *flakyLedger) Clawback(ctx context.Context, params ports.ClawbackParams) (domain.CommissionOutcome, int64, error) {
	l.mu.Lock()
	if l.failClawback > 0 {
		l.failClawback--
		l.mu.Unlock()
		return "", 0, domain.ErrStorageUnavailable
	}
	l.mu.Unlock()
	return l.CommissionLedger.Clawback(ctx, params)
}

type harness struct {
	service  *Service
	repos    *memory.Repositories
	ledger   *flakyLedger
	payments *fakePayments
	payouts  *fakePayouts
}

func newHarness(t *testing.T, configure ...func(*Dependencies)) *harness {
	t.Helper()
	repos := memory.NewRepositories()
	repos.PartnerLinks.Put(domain.PartnerLink{PartnerLinkID: testLinkID, PartnerID: testPartnerID, ProductID: "prod-1"})
	repos.Registrations.Put(domain.BusinessRegistration{UserID: testPartnerID, SellerID: testSellerID, GatewayStatus: "APPROVED"})

	h := &harness{
		repos:    repos,
		ledger:   &flakyLedger{CommissionLedger: repos.Commissions},
		payments: &fakePayments{},
		payouts:  &fakePayouts{balance: domain.Balance{AvailableAmount: 1_000_000, Currency: "KRW"}},
	}
	clock := &tickingClock{now: harnessEpoch, step: time.Millisecond}
	deps := Dependencies{
		Config: Config{
			PayoutsEnabled:     true,
			PayoutBalanceCheck: true,
		},
		Orders:         repos.Orders,
		Commissions:    h.ledger,
		PartnerLinks:   repos.PartnerLinks,
		Registrations:  repos.Registrations,
		Outbox:         repos.Outbox,
		EventDedup:     repos.EventDedup,
		Idempotency:    repos.Idempotency,
		Payments:       h.payments,
		Payouts:        h.payouts,
		PayoutAttempts: repos.PayoutAttempts,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:          clock.Now,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	h.service = NewService(deps)
	return h
}

// placePartnerOrder creates a card order of 10000 in products plus 2500 shipping.
func (h *harness) placePartnerOrder(t *testing.T, partnerLinkID string) domain.Order {
	t.Helper()
	order, err := h.service.PlaceOrder(context.Background(), buyer, PlaceOrderInput{
		Items:         []domain.LineItem{{ProductID: "prod-1", Title: "green tea", Quantity: 2, UnitPrice: 5000}},
		TotalAmount:   12500,
		PaymentMethod: domain.PaymentMethodCard,
		PartnerLinkID: partnerLinkID,
	})
	require.NoError(t, err)
	return order
}

func (h *harness) confirm(t *testing.T, order domain.Order) ConfirmationResult {
	t.Helper()
	result, err := h.service.ProcessPaymentConfirmation(context.Background(), ConfirmPaymentInput{
		OrderRef:   order.OrderRef,
		PaymentKey: "pk_" + order.OrderRef,
		Amount:     order.TotalAmount,
	})
	require.NoError(t, err)
	return result
}

func (h *harness) order(t *testing.T, orderID string) domain.Order {
	t.Helper()
	order, err := h.repos.Orders.GetByID(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func (h *harness) link(t *testing.T) domain.PartnerLink {
	t.Helper()
	link, err := h.repos.PartnerLinks.GetByID(context.Background(), testLinkID)
	require.NoError(t, err)
	return link
}

func (h *harness) waitForPayouts(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.service.WaitForPayouts(ctx))
}
