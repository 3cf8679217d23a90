package postgres

import (
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Orders        ports.OrderRepository
	Commissions   ports.CommissionLedger
	PartnerLinks  ports.PartnerLinkRepository
	Registrations ports.BusinessRegistrationRepository
	Outbox        ports.OutboxRepository
	EventDedup    ports.EventDedupRepository
	Idempotency   ports.IdempotencyRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Orders:        &orderRepository{db: db},
		Commissions:   &commissionLedger{db: db},
		PartnerLinks:  &partnerLinkRepository{db: db},
		Registrations: &businessRegistrationRepository{db: db},
		Outbox:        &outboxRepository{db: db},
		EventDedup:    &eventDedupRepository{db: db},
		Idempotency:   &idempotencyRepository{db: db},
	}
}
