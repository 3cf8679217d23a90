package postgres

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
	"gorm.io/gorm"
)

type orderRepository struct {
	db *gorm.DB
}

func (r *orderRepository) Create(ctx context.Context, params ports.CreateOrderParams) (domain.Order, error) {
	rec := orderModel{
		OrderID:          params.OrderID,
		OrderRef:         params.OrderRef,
		UserID:           params.UserID,
		Status:           string(domain.OrderStatusPending),
		PaymentStatus:    string(params.PaymentStatus),
		PaymentMethod:    params.PaymentMethod,
		TotalAmount:      params.TotalAmount,
		Currency:         params.Currency,
		PartnerLinkID:    nullable(params.PartnerLinkID),
		CommissionState:  string(domain.CommissionStateNone),
		CommissionAmount: 0,
		CreatedAt:        params.CreatedAt,
		UpdatedAt:        params.CreatedAt,
	}
	items := make([]orderItemModel, 0, len(params.Items))
	for i, item := range params.Items {
		items = append(items, orderItemModel{
			ItemID:    item.ItemID,
			OrderID:   params.OrderID,
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Position:  i,
		})
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return domain.Order{}, storageErr("create order", err)
	}
	return toDomainOrder(rec, items), nil
}

func (r *orderRepository) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.get(ctx, "order_id = ?", orderID)
}

func (r *orderRepository) GetByRef(ctx context.Context, orderRef string) (domain.Order, error) {
	return r.get(ctx, "order_ref = ?", orderRef)
}

func (r *orderRepository) get(ctx context.Context, where string, arg string) (domain.Order, error) {
	var rec orderModel
	if err := r.db.WithContext(ctx).Where(where, arg).Take(&rec).Error; err != nil {
		return domain.Order{}, storageErr("get order", err)
	}
	var items []orderItemModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", rec.OrderID).Order("position asc").Find(&items).Error; err != nil {
		return domain.Order{}, storageErr("get order items", err)
	}
	return toDomainOrder(rec, items), nil
}

func (r *orderRepository) MarkPaid(ctx context.Context, params ports.MarkPaidParams) (bool, error) {
	updates := map[string]any{
		"status":              string(domain.OrderStatusConfirmed),
		"payment_status":      string(domain.PaymentStatusPaid),
		"gateway_payment_key": params.PaymentKey,
		"gateway_order_id":    params.GatewayOrderID,
		"confirmed_at":        params.ConfirmedAt,
		"updated_at":          params.ConfirmedAt,
	}
	if params.PaymentMethod != "" {
		updates["payment_method"] = params.PaymentMethod
	}
	res := r.db.WithContext(ctx).Model(&orderModel{}).
		Where("order_id = ? AND payment_status = ? AND status <> ?", params.OrderID, domain.PaymentStatusPending, domain.OrderStatusCancelled).
		Updates(updates)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, storageErr("mark order paid", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *orderRepository) MarkCancelled(ctx context.Context, params ports.MarkCancelledParams) (bool, error) {
	updates := map[string]any{
		"status":        string(domain.OrderStatusCancelled),
		"cancel_reason": params.Reason,
		"cancelled_at":  params.CancelledAt,
		"updated_at":    params.CancelledAt,
	}
	if params.Refunded {
		updates["payment_status"] = string(domain.PaymentStatusRefunded)
	}
	res := r.db.WithContext(ctx).Model(&orderModel{}).
		Where("order_id = ? AND payment_status = ? AND status <> ?", params.OrderID, domain.PaymentStatusPaid, domain.OrderStatusCancelled).
		Updates(updates)
	if res.Error != nil {
		return false, storageErr("mark order cancelled", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *orderRepository) Abandon(ctx context.Context, orderID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&orderModel{}).
		Where("order_id = ? AND status = ? AND payment_status = ?", orderID, domain.OrderStatusPending, domain.PaymentStatusPending).
		Updates(map[string]any{
			"status":       string(domain.OrderStatusCancelled),
			"cancelled_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, storageErr("abandon order", res.Error)
	}
	return res.RowsAffected == 1, nil
}

var _ ports.OrderRepository = (*orderRepository)(nil)
