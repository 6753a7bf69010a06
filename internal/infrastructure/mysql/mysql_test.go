package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCols = []string{
	"id", "owner_id", "status", "payment_method", "items_json", "shipping_json", "payment_result_json",
	"stock_commits_json", "items_price", "shipping_price", "tax_price", "total_price", "is_paid", "paid_at",
	"is_delivered", "delivered_at", "follow_up_owed", "version", "created_at", "updated_at",
}

var ticketCols = []string{"id", "order_id", "kind", "reason", "items_json", "created_at", "resolved_at", "resolved_by", "note"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func sampleOrder(t *testing.T) *domain.Order {
	t.Helper()
	o, err := domain.New("o-1", "u-1", []domain.Item{
		{ProductID: "P1", Name: "Mug", Image: domain.DefaultItemImage, Quantity: 2, UnitPrice: decimal.RequireFromString("50")},
		{ProductID: "P2", Name: "Lamp", Image: "/img/lamp.jpg", Quantity: 1, UnitPrice: decimal.RequireFromString("25")},
	}, domain.Shipping{Address: "1 Nile St", City: "Cairo", PostalCode: "11511", Country: "EG", Phone: "0100"},
		domain.PaymentCreditCard, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	return o
}

func rowValues(t *testing.T, o *domain.Order) []driver.Value {
	t.Helper()
	d, err := encodeOrder(o)
	require.NoError(t, err)
	var payment driver.Value
	if d.payment.Valid {
		payment = []byte(d.payment.String)
	}
	paid, _ := nullTime(o.PaidAt).Value()
	delivered, _ := nullTime(o.DeliveredAt).Value()
	return []driver.Value{
		o.ID, o.OwnerID, string(o.Status), string(o.PaymentMethod), d.items, d.shipping, payment,
		d.commits, o.ItemsPrice.String(), o.ShippingPrice.String(), o.TaxPrice.String(), o.TotalPrice.String(),
		o.IsPaid, paid, o.IsDelivered, delivered, o.FollowUpOwed, o.Version, o.CreatedAt, o.UpdatedAt,
	}
}

func TestOrderInsertAndDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db)
	o := sampleOrder(t)

	mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(&mysqldriver.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry"})

	require.NoError(t, repo.Insert(context.Background(), o))
	assert.Equal(t, 1, o.Version)
	assert.ErrorIs(t, repo.Insert(context.Background(), o), domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderGetRoundTrip(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db)

	o := sampleOrder(t)
	o.Version = 1
	require.NoError(t, o.ApplyPaymentSuccess(domain.PaymentResult{
		TransactionID: "tx-9", GatewayOrderID: "1001", Amount: o.TotalPrice, Currency: "EGP",
	}, o.CreatedAt.Add(time.Minute)))
	o.RecordStockCommit(domain.StockCommit{Index: 0, ProductID: "P1", Quantity: 2, Outcome: domain.CommitCommitted, RemainingStock: 8, At: o.CreatedAt})

	mock.ExpectQuery(`FROM orders WHERE id = \?`).WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(rowValues(t, o)...))
	mock.ExpectQuery(`FROM orders WHERE id = \?`).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(orderCols))

	got, err := repo.Get(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, o.Status, got.Status)
	assert.True(t, got.IsPaid)
	require.NotNil(t, got.PaidAt)
	require.NotNil(t, got.PaymentResult)
	assert.Equal(t, "tx-9", got.PaymentResult.TransactionID)
	assert.True(t, o.TotalPrice.Equal(got.TotalPrice))
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("50")))
	require.Len(t, got.StockCommits, 1)
	assert.Equal(t, domain.CommitCommitted, got.StockCommits[0].Outcome)
	assert.Equal(t, "Cairo", got.Shipping.City)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderUpdateVersionGuard(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db)
	o := sampleOrder(t)
	o.Version = 2

	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), o))
	assert.Equal(t, 3, o.Version)

	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM orders`).WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))
	err := repo.Update(context.Background(), o)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 3, o.Version)

	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM orders`).WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	assert.ErrorIs(t, repo.Update(context.Background(), o), domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderListByOwner(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db)
	o := sampleOrder(t)
	o.Version = 1

	mock.ExpectQuery(`WHERE owner_id = \? ORDER BY created_at DESC`).WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(rowValues(t, o)...))

	list, err := repo.ListByOwner(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].PaymentResult)
	assert.Nil(t, list[0].StockCommits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaLogStalled(t *testing.T) {
	db, mock := newMock(t)
	log := NewSagaLog(db)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO saga_steps`).
		WithArgs("o-1", "commit_stock", "started", "", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, log.Append(context.Background(), saga.Entry{OrderID: "o-1", Step: saga.StepCommitStock, Status: saga.StepStarted, At: at}))
	assert.Error(t, log.Append(context.Background(), saga.Entry{Step: saga.StepNotify}))

	mock.ExpectQuery(`MAX\(id\)`).WithArgs("commit_stock", "started").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow("o-1").AddRow("o-7"))
	ids, err := log.Stalled(context.Background(), saga.StepCommitStock)
	require.NoError(t, err)
	assert.Equal(t, []string{"o-1", "o-7"}, ids)

	mock.ExpectQuery(`FROM saga_steps WHERE order_id = \?`).WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "step", "status", "detail", "at"}).
			AddRow("o-1", "price_snapshot", "completed", "", at).
			AddRow("o-1", "commit_stock", "started", "", at))
	entries, err := log.Entries(context.Background(), "o-1")
	require.NoError(t, err)
	last, ok := saga.LastOf(entries, saga.StepCommitStock)
	assert.True(t, ok)
	assert.Equal(t, saga.StepStarted, last.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationResolveOnce(t *testing.T) {
	db, mock := newMock(t)
	q := NewReconciliationQueue(db)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	resolved := created.Add(time.Hour)
	items := []byte(`[{"product_id":"P1","quantity":2,"outcome":"failed","reason":"insufficient stock"}]`)

	mock.ExpectExec(`INSERT INTO reconciliation_tickets`).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, q.Enqueue(context.Background(), &saga.Ticket{
		ID: "t-1", OrderID: "o-1", Kind: saga.TicketStockCommitFailed, CreatedAt: created,
	}))

	mock.ExpectExec(`UPDATE reconciliation_tickets`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM reconciliation_tickets WHERE id = \?`).WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(ticketCols).AddRow("t-1", "o-1", "stock_commit_failed", "", items, created, resolved, "admin-1", "restocked"))
	tk, err := q.Resolve(context.Background(), "t-1", "admin-1", "restocked", resolved)
	require.NoError(t, err)
	assert.False(t, tk.Open())
	assert.Equal(t, "P1", tk.Items[0].ProductID)

	mock.ExpectExec(`UPDATE reconciliation_tickets`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM reconciliation_tickets WHERE id = \?`).WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(ticketCols).AddRow("t-1", "o-1", "stock_commit_failed", "", items, created, resolved, "admin-1", "restocked"))
	_, err = q.Resolve(context.Background(), "t-1", "admin-2", "again", resolved)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	mock.ExpectExec(`UPDATE reconciliation_tickets`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM reconciliation_tickets WHERE id = \?`).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(ticketCols))
	_, err = q.Resolve(context.Background(), "ghost", "admin-1", "", resolved)
	assert.ErrorIs(t, err, saga.ErrTicketNotFound)

	mock.ExpectQuery(`WHERE resolved_at IS NULL`).
		WillReturnRows(sqlmock.NewRows(ticketCols).AddRow("t-2", "o-2", "refund_restock_owed", "cancelled", []byte(`[]`), created, nil, "", ""))
	open, err := q.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Open())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS saga_steps`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS reconciliation_tickets`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}
