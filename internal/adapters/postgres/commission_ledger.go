package postgres

import (
	"context"
	"errors"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// commissionLedger updates the order's commission snapshot and the partner
// link counters in one transaction. The order row's commission_state is the
// guard that makes each direction apply once.
type commissionLedger struct {
	db *gorm.DB
}

var errLinkMissing = errors.New("partner link missing")

func (l *commissionLedger) Accrue(ctx context.Context, params ports.AccrueParams) (domain.CommissionOutcome, error) {
	outcome := domain.CommissionApplied
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&orderModel{}).
			Where("order_id = ? AND commission_state = ? AND status <> ?", params.OrderID, domain.CommissionStateNone, domain.OrderStatusCancelled).
			Updates(map[string]any{
				"commission_state":  string(domain.CommissionStateAccrued),
				"commission_amount": params.Commission,
				"updated_at":        params.At,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			outcome = domain.CommissionAlreadyApplied
			return nil
		}
		res = tx.Model(&partnerLinkModel{}).
			Where("partner_link_id = ?", params.PartnerLinkID).
			Updates(map[string]any{
				"conversion_count": gorm.Expr("conversion_count + 1"),
				"revenue":          gorm.Expr("revenue + ?", params.Commission),
				"updated_at":       params.At,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errLinkMissing
		}
		return nil
	})
	if errors.Is(err, errLinkMissing) {
		return l.markUnresolved(ctx, params)
	}
	if err != nil {
		return "", storageErr("accrue commission", err)
	}
	return outcome, nil
}

// markUnresolved records that the order's partner link no longer exists so a
// redelivery does not keep retrying the accrual.
func (l *commissionLedger) markUnresolved(ctx context.Context, params ports.AccrueParams) (domain.CommissionOutcome, error) {
	res := l.db.WithContext(ctx).Model(&orderModel{}).
		Where("order_id = ? AND commission_state = ?", params.OrderID, domain.CommissionStateNone).
		Updates(map[string]any{
			"commission_state": string(domain.CommissionStateUnresolved),
			"updated_at":       params.At,
		})
	if res.Error != nil {
		return "", storageErr("mark commission unresolved", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.CommissionAlreadyApplied, nil
	}
	return domain.CommissionLinkMissing, nil
}

func (l *commissionLedger) Clawback(ctx context.Context, params ports.ClawbackParams) (domain.CommissionOutcome, int64, error) {
	outcome := domain.CommissionApplied
	var reversed int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec orderModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ? AND commission_state = ?", params.OrderID, domain.CommissionStateAccrued).
			Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = domain.CommissionAlreadyApplied
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&orderModel{}).
			Where("order_id = ?", params.OrderID).
			Updates(map[string]any{
				"commission_state": string(domain.CommissionStateReversed),
				"updated_at":       params.At,
			}).Error; err != nil {
			return err
		}
		res := tx.Model(&partnerLinkModel{}).
			Where("partner_link_id = ?", params.PartnerLinkID).
			Updates(map[string]any{
				"conversion_count": gorm.Expr("GREATEST(conversion_count - 1, 0)"),
				"revenue":          gorm.Expr("GREATEST(revenue - ?, 0)", rec.CommissionAmount),
				"updated_at":       params.At,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			outcome = domain.CommissionLinkMissing
			return nil
		}
		reversed = rec.CommissionAmount
		return nil
	})
	if err != nil {
		return "", 0, storageErr("clawback commission", err)
	}
	return outcome, reversed, nil
}

var _ ports.CommissionLedger = (*commissionLedger)(nil)
