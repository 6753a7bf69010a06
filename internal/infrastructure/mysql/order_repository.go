package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, owner_id, status, payment_method, items_json, shipping_json, payment_result_json,
stock_commits_json, items_price, shipping_price, tax_price, total_price, is_paid, paid_at,
is_delivered, delivered_at, follow_up_owed, version, created_at, updated_at`

type itemRow struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type shippingRow struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type paymentResultRow struct {
	TransactionID  string          `json:"transaction_id"`
	Status         string          `json:"status"`
	UpdateTime     string          `json:"update_time"`
	GatewayOrderID string          `json:"gateway_order_id"`
	Message        string          `json:"message"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// orderDocs is the JSON-encoded part of an order row.
type orderDocs struct {
	items, shipping, commits []byte
	payment                  sql.NullString
}

func encodeOrder(o *domain.Order) (orderDocs, error) {
	var d orderDocs
	items := make([]itemRow, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemRow{ProductID: it.ProductID, Name: it.Name, Image: it.Image, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	var err error
	if d.items, err = json.Marshal(items); err != nil {
		return d, fmt.Errorf("mysql: encode items: %w", err)
	}
	s := o.Shipping
	if d.shipping, err = json.Marshal(shippingRow{Address: s.Address, City: s.City, PostalCode: s.PostalCode, Country: s.Country, Phone: s.Phone}); err != nil {
		return d, fmt.Errorf("mysql: encode shipping: %w", err)
	}
	commits := o.StockCommits
	if commits == nil {
		commits = []domain.StockCommit{}
	}
	if d.commits, err = json.Marshal(commits); err != nil {
		return d, fmt.Errorf("mysql: encode stock commits: %w", err)
	}
	if r := o.PaymentResult; r != nil {
		b, err := json.Marshal(paymentResultRow(*r))
		if err != nil {
			return d, fmt.Errorf("mysql: encode payment result: %w", err)
		}
		d.payment = sql.NullString{String: string(b), Valid: true}
	}
	return d, nil
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o                 domain.Order
		status, method    string
		items, shipping   []byte
		commits           []byte
		payment           sql.NullString
		paidAt, delivered sql.NullTime
	)
	err := row.Scan(&o.ID, &o.OwnerID, &status, &method, &items, &shipping, &payment,
		&commits, &o.ItemsPrice, &o.ShippingPrice, &o.TaxPrice, &o.TotalPrice, &o.IsPaid, &paidAt,
		&o.IsDelivered, &delivered, &o.FollowUpOwed, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.Status(status)
	o.PaymentMethod = domain.PaymentMethod(method)
	o.PaidAt = timePtr(paidAt)
	o.DeliveredAt = timePtr(delivered)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()

	var rows []itemRow
	if err := json.Unmarshal(items, &rows); err != nil {
		return nil, fmt.Errorf("mysql: decode items of %s: %w", o.ID, err)
	}
	o.Items = make([]domain.Item, len(rows))
	for i, r := range rows {
		o.Items[i] = domain.Item{ProductID: r.ProductID, Name: r.Name, Image: r.Image, Quantity: r.Quantity, UnitPrice: r.UnitPrice}
	}
	var s shippingRow
	if err := json.Unmarshal(shipping, &s); err != nil {
		return nil, fmt.Errorf("mysql: decode shipping of %s: %w", o.ID, err)
	}
	o.Shipping = domain.Shipping(s)
	if len(commits) > 0 {
		if err := json.Unmarshal(commits, &o.StockCommits); err != nil {
			return nil, fmt.Errorf("mysql: decode stock commits of %s: %w", o.ID, err)
		}
	}
	if len(o.StockCommits) == 0 {
		o.StockCommits = nil
	}
	if payment.Valid {
		var r paymentResultRow
		if err := json.Unmarshal([]byte(payment.String), &r); err != nil {
			return nil, fmt.Errorf("mysql: decode payment result of %s: %w", o.ID, err)
		}
		res := domain.PaymentResult(r)
		o.PaymentResult = &res
	}
	return &o, nil
}

type OrderRepository struct{ db *sql.DB }

func NewOrderRepository(db *sql.DB) *OrderRepository { return &OrderRepository{db: db} }

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return errors.New("order repository: id is required")
	}
	d, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1,?,?)`,
		o.ID, o.OwnerID, string(o.Status), string(o.PaymentMethod), d.items, d.shipping, d.payment,
		d.commits, o.ItemsPrice, o.ShippingPrice, o.TaxPrice, o.TotalPrice, o.IsPaid, nullTime(o.PaidAt),
		o.IsDelivered, nullTime(o.DeliveredAt), o.FollowUpOwed, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("mysql: insert order: %w", err)
	}
	o.Version = 1
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: get order: %w", err)
	}
	return o, nil
}

// Update is a compare-and-set on version; zero affected rows means a stale write or a missing row.
func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return errors.New("order repository: id is required")
	}
	d, err := encodeOrder(o)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE orders
SET status = ?, items_json = ?, shipping_json = ?, payment_result_json = ?, stock_commits_json = ?,
    is_paid = ?, paid_at = ?, is_delivered = ?, delivered_at = ?, follow_up_owed = ?,
    version = version + 1, updated_at = ?
WHERE id = ? AND version = ?`,
		string(o.Status), d.items, d.shipping, d.payment, d.commits,
		o.IsPaid, nullTime(o.PaidAt), o.IsDelivered, nullTime(o.DeliveredAt), o.FollowUpOwed,
		o.UpdatedAt.UTC(), o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("mysql: update order: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql: update order: %w", err)
	}
	if rows == 0 {
		var stored int
		err := r.db.QueryRowContext(ctx, `SELECT version FROM orders WHERE id = ?`, o.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("mysql: update order: %w", err)
		}
		return fmt.Errorf("%w: stale version %d, stored %d", domain.ErrConflict, o.Version, stored)
	}
	o.Version++
	return nil
}

func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
}

func (r *OrderRepository) List(ctx context.Context) ([]*domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql: list orders: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql: list orders: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: list orders: %w", err)
	}
	return out, nil
}
