package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

type Repositories struct {
	Orders         *OrderRepository
	Commissions    *CommissionLedger
	PartnerLinks   *PartnerLinkRepository
	Registrations  *BusinessRegistrationRepository
	Outbox         *OutboxRepository
	EventDedup     *EventDedupRepository
	Idempotency    *IdempotencyRepository
	PayoutAttempts *PayoutAttemptStore
}

// ledger holds the rows the commission ledger must update together.
type ledger struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	refs   map[string]string
	links  map[string]domain.PartnerLink
}

func NewRepositories() *Repositories {
	l := &ledger{
		orders: make(map[string]domain.Order),
		refs:   make(map[string]string),
		links:  make(map[string]domain.PartnerLink),
	}
	return &Repositories{
		Orders:       &OrderRepository{ledger: l},
		Commissions:  &CommissionLedger{ledger: l},
		PartnerLinks: &PartnerLinkRepository{ledger: l},
		Registrations: &BusinessRegistrationRepository{
			records: make(map[string]domain.BusinessRegistration),
		},
		Outbox: &OutboxRepository{
			records: make(map[uuid.UUID]ports.OutboxRecord),
		},
		EventDedup: &EventDedupRepository{
			records: make(map[string]dedupRecord),
		},
		Idempotency: &IdempotencyRepository{
			records: make(map[string]ports.IdempotencyRecord),
		},
		PayoutAttempts: &PayoutAttemptStore{
			records: make(map[string]attemptRecord),
		},
	}
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	return order
}

type OrderRepository struct {
	ledger *ledger
}

func (r *OrderRepository) Create(_ context.Context, params ports.CreateOrderParams) (domain.Order, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	if _, ok := r.ledger.orders[params.OrderID]; ok {
		return domain.Order{}, domain.ErrConflict
	}
	if _, ok := r.ledger.refs[params.OrderRef]; ok {
		return domain.Order{}, domain.ErrConflict
	}
	order := domain.Order{
		OrderID:         params.OrderID,
		OrderRef:        params.OrderRef,
		UserID:          params.UserID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   params.PaymentStatus,
		PaymentMethod:   params.PaymentMethod,
		TotalAmount:     params.TotalAmount,
		Currency:        params.Currency,
		PartnerLinkID:   params.PartnerLinkID,
		CommissionState: domain.CommissionStateNone,
		Items:           slices.Clone(params.Items),
		CreatedAt:       params.CreatedAt,
		UpdatedAt:       params.CreatedAt,
	}
	r.ledger.orders[order.OrderID] = order
	r.ledger.refs[order.OrderRef] = order.OrderID
	return cloneOrder(order), nil
}

func (r *OrderRepository) GetByID(_ context.Context, orderID string) (domain.Order, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	order, ok := r.ledger.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) GetByRef(ctx context.Context, orderRef string) (domain.Order, error) {
	r.ledger.mu.RLock()
	orderID, ok := r.ledger.refs[orderRef]
	r.ledger.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return r.GetByID(ctx, orderID)
}

func (r *OrderRepository) MarkPaid(_ context.Context, params ports.MarkPaidParams) (bool, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	order, ok := r.ledger.orders[params.OrderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if order.PaymentStatus != domain.PaymentStatusPending || order.Status == domain.OrderStatusCancelled {
		return false, nil
	}
	at := params.ConfirmedAt
	order.Status = domain.OrderStatusConfirmed
	order.PaymentStatus = domain.PaymentStatusPaid
	order.GatewayPaymentKey = params.PaymentKey
	order.GatewayOrderID = params.GatewayOrderID
	if params.PaymentMethod != "" {
		order.PaymentMethod = params.PaymentMethod
	}
	order.ConfirmedAt = &at
	order.UpdatedAt = at
	r.ledger.orders[order.OrderID] = order
	return true, nil
}

func (r *OrderRepository) MarkCancelled(_ context.Context, params ports.MarkCancelledParams) (bool, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	order, ok := r.ledger.orders[params.OrderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if order.PaymentStatus != domain.PaymentStatusPaid || order.Status == domain.OrderStatusCancelled {
		return false, nil
	}
	at := params.CancelledAt
	order.Status = domain.OrderStatusCancelled
	if params.Refunded {
		order.PaymentStatus = domain.PaymentStatusRefunded
	}
	order.CancelReason = params.Reason
	order.CancelledAt = &at
	order.UpdatedAt = at
	r.ledger.orders[order.OrderID] = order
	return true, nil
}

func (r *OrderRepository) Abandon(_ context.Context, orderID string, at time.Time) (bool, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	order, ok := r.ledger.orders[orderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		return false, nil
	}
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &at
	order.UpdatedAt = at
	r.ledger.orders[orderID] = order
	return true, nil
}

type CommissionLedger struct {
	ledger *ledger
}

func (l *CommissionLedger) Accrue(_ context.Context, params ports.AccrueParams) (domain.CommissionOutcome, error) {
	l.ledger.mu.Lock()
	defer l.ledger.mu.Unlock()
	order, ok := l.ledger.orders[params.OrderID]
	if !ok {
		return "", domain.ErrNotFound
	}
	if order.CommissionState != domain.CommissionStateNone || order.Status == domain.OrderStatusCancelled {
		return domain.CommissionAlreadyApplied, nil
	}
	link, ok := l.ledger.links[params.PartnerLinkID]
	if !ok {
		order.CommissionState = domain.CommissionStateUnresolved
		order.UpdatedAt = params.At
		l.ledger.orders[order.OrderID] = order
		return domain.CommissionLinkMissing, nil
	}
	link.ConversionCount++
	link.Revenue += params.Commission
	link.UpdatedAt = params.At
	l.ledger.links[link.PartnerLinkID] = link
	order.CommissionState = domain.CommissionStateAccrued
	order.CommissionAmount = params.Commission
	order.UpdatedAt = params.At
	l.ledger.orders[order.OrderID] = order
	return domain.CommissionApplied, nil
}

func (l *CommissionLedger) Clawback(_ context.Context, params ports.ClawbackParams) (domain.CommissionOutcome, int64, error) {
	l.ledger.mu.Lock()
	defer l.ledger.mu.Unlock()
	order, ok := l.ledger.orders[params.OrderID]
	if !ok {
		return "", 0, domain.ErrNotFound
	}
	if order.CommissionState != domain.CommissionStateAccrued {
		return domain.CommissionAlreadyApplied, 0, nil
	}
	amount := order.CommissionAmount
	order.CommissionState = domain.CommissionStateReversed
	order.UpdatedAt = params.At
	l.ledger.orders[order.OrderID] = order
	link, ok := l.ledger.links[params.PartnerLinkID]
	if !ok {
		return domain.CommissionLinkMissing, 0, nil
	}
	link.ConversionCount = max(link.ConversionCount-1, 0)
	link.Revenue = max(link.Revenue-amount, 0)
	link.UpdatedAt = params.At
	l.ledger.links[link.PartnerLinkID] = link
	return domain.CommissionApplied, amount, nil
}

type PartnerLinkRepository struct {
	ledger *ledger
}

func (r *PartnerLinkRepository) GetByID(_ context.Context, partnerLinkID string) (domain.PartnerLink, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	link, ok := r.ledger.links[partnerLinkID]
	if !ok {
		return domain.PartnerLink{}, domain.ErrNotFound
	}
	return link, nil
}

// Put inserts or replaces a partner link. Links are owned by the partner
// catalogue, so this is only used to seed local and test stores.
func (r *PartnerLinkRepository) Put(link domain.PartnerLink) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	r.ledger.links[link.PartnerLinkID] = link
}

func (r *PartnerLinkRepository) Delete(partnerLinkID string) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	delete(r.ledger.links, partnerLinkID)
}

type BusinessRegistrationRepository struct {
	mu      sync.RWMutex
	records map[string]domain.BusinessRegistration
}

func (r *BusinessRegistrationRepository) GetByUserID(_ context.Context, userID string) (domain.BusinessRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.records[userID]
	if !ok {
		return domain.BusinessRegistration{}, domain.ErrNotFound
	}
	return reg, nil
}

func (r *BusinessRegistrationRepository) Put(reg domain.BusinessRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[reg.UserID] = reg
}

type OutboxRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]ports.OutboxRecord
	order   []uuid.UUID
}

func (r *OutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[event.EventID]; ok {
		return domain.ErrConflict
	}
	r.records[event.EventID] = ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      slices.Clone(event.Payload),
		FirstSeenAt:  event.OccurredAt,
	}
	r.order = append(r.order, event.EventID)
	return nil
}

func (r *OutboxRepository) FetchUnpublished(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range r.order {
		record, ok := r.records[id]
		if !ok || record.PublishedAt != nil {
			continue
		}
		out = append(out, record)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	record.PublishedAt = &at
	r.records[outboxID] = record
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	record.RetryCount++
	record.LastError = &errMsg
	record.LastErrorAt = &at
	r.records[outboxID] = record
	return nil
}

// EventTypes lists enqueued event types in insertion order.
func (r *OutboxRepository) EventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].EventType)
	}
	return out
}

type dedupRecord struct {
	EventType string
	ExpiresAt time.Time
}

type EventDedupRepository struct {
	mu      sync.Mutex
	records map[string]dedupRecord
}

func (r *EventDedupRepository) IsDuplicate(_ context.Context, eventID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[eventID]
	if !ok {
		return false, nil
	}
	if now.After(record.ExpiresAt) {
		delete(r.records, eventID)
		return false, nil
	}
	return true, nil
}

func (r *EventDedupRepository) MarkProcessed(_ context.Context, eventID, eventType string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[eventID] = dedupRecord{EventType: eventType, ExpiresAt: expiresAt}
	return nil
}

type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]ports.IdempotencyRecord
}

func (r *IdempotencyRepository) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	if now.After(record.ExpiresAt) {
		delete(r.records, key)
		return nil, nil
	}
	clone := record
	clone.ResponseBody = slices.Clone(record.ResponseBody)
	return &clone, nil
}

func (r *IdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[key]; ok {
		return domain.ErrIdempotencyConflict
	}
	r.records[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      "reserved",
		ExpiresAt:   expiresAt,
	}
	return nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key]
	if !ok {
		return domain.ErrNotFound
	}
	record.Status = "completed"
	record.ResponseCode = responseCode
	record.ResponseBody = slices.Clone(responseBody)
	if at.After(record.ExpiresAt) {
		record.ExpiresAt = at.Add(7 * 24 * time.Hour)
	}
	r.records[key] = record
	return nil
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.records[key]; ok && record.Status != "completed" {
		delete(r.records, key)
	}
	return nil
}

type attemptRecord struct {
	RefPayoutID string
	ExpiresAt   time.Time
}

type PayoutAttemptStore struct {
	mu      sync.Mutex
	records map[string]attemptRecord
}

func (s *PayoutAttemptStore) ReserveRefPayoutID(_ context.Context, orderRef, candidate string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if record, ok := s.records[orderRef]; ok && now.Before(record.ExpiresAt) {
		return record.RefPayoutID, nil
	}
	s.records[orderRef] = attemptRecord{RefPayoutID: candidate, ExpiresAt: now.Add(ttl)}
	return candidate, nil
}

var (
	_ ports.OrderRepository                = (*OrderRepository)(nil)
	_ ports.CommissionLedger               = (*CommissionLedger)(nil)
	_ ports.PartnerLinkRepository          = (*PartnerLinkRepository)(nil)
	_ ports.BusinessRegistrationRepository = (*BusinessRegistrationRepository)(nil)
	_ ports.OutboxRepository               = (*OutboxRepository)(nil)
	_ ports.EventDedupRepository           = (*EventDedupRepository)(nil)
	_ ports.IdempotencyRepository          = (*IdempotencyRepository)(nil)
	_ ports.PayoutAttemptStore             = (*PayoutAttemptStore)(nil)
)
