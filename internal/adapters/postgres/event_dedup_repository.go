package postgres

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type eventDedupRepository struct {
	db *gorm.DB
}

func (r *eventDedupRepository) IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&settlementEventDedupModel{}).
		Where("event_id = ? AND expires_at > ?", eventID, now).
		Count(&count).Error
	if err != nil {
		return false, storageErr("check event dedup", err)
	}
	return count > 0, nil
}

func (r *eventDedupRepository) MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error {
	rec := settlementEventDedupModel{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"event_type", "processed_at", "expires_at"}),
	}).Create(&rec).Error
	return storageErr("mark event processed", err)
}

var _ ports.EventDedupRepository = (*eventDedupRepository)(nil)
