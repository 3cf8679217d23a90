package postgres

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
	"gorm.io/gorm"
)

type partnerLinkRepository struct {
	db *gorm.DB
}

func (r *partnerLinkRepository) GetByID(ctx context.Context, partnerLinkID string) (domain.PartnerLink, error) {
	var rec partnerLinkModel
	if err := r.db.WithContext(ctx).Where("partner_link_id = ?", partnerLinkID).Take(&rec).Error; err != nil {
		return domain.PartnerLink{}, storageErr("get partner link", err)
	}
	return toDomainPartnerLink(rec), nil
}

type businessRegistrationRepository struct {
	db *gorm.DB
}

func (r *businessRegistrationRepository) GetByUserID(ctx context.Context, userID string) (domain.BusinessRegistration, error) {
	var rec businessRegistrationModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error; err != nil {
		return domain.BusinessRegistration{}, storageErr("get business registration", err)
	}
	return toDomainBusinessRegistration(rec), nil
}

var (
	_ ports.PartnerLinkRepository          = (*partnerLinkRepository)(nil)
	_ ports.BusinessRegistrationRepository = (*businessRegistrationRepository)(nil)
)
