package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

func TestOrderRepositoryMarkPaidIsConditional(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &orderRepository{db: db}
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE "orders" SET .* WHERE order_id = .* AND payment_status = .* AND status <> .*`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "orders" SET .* WHERE order_id = .* AND payment_status = .* AND status <> .*`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	params := ports.MarkPaidParams{OrderID: "order-1", PaymentKey: "pk_1", GatewayOrderID: "ORD-1", ConfirmedAt: at}
	applied, err := repo.MarkPaid(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.MarkPaid(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositoryGetByRefNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &orderRepository{db: db}

	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE order_ref = .*`).
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}))

	_, err := repo.GetByRef(context.Background(), "ORD-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositoryGetByRefLoadsItems(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &orderRepository{db: db}

	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE order_ref = .*`).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "order_ref", "status", "payment_status", "total_amount", "partner_link_id", "commission_state"}).
			AddRow("order-1", "ORD-1", "confirmed", "paid", int64(10000), "link-1", "accrued"))
	mock.ExpectQuery(`SELECT \* FROM "order_items" WHERE order_id = .* ORDER BY position asc`).
		WillReturnRows(sqlmock.NewRows([]string{"item_id", "order_id", "product_id", "quantity", "unit_price"}).
			AddRow("item-1", "order-1", "prod-1", int64(2), int64(5000)))

	order, err := repo.GetByRef(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "link-1", order.PartnerLinkID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(10000), domain.CommissionBase(order.Items))
	assert.NoError(t, mock.ExpectationsWereMet())
}
