package order

import (
	"context"

	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/shopspring/decimal"
)

type IDGenerator interface {
	NewID() string
}

// CatalogItem is the live product data snapshotted into an order line.
type CatalogItem struct {
	ProductID string
	Name      string
	Image     string
	Price     decimal.Decimal
}

// Catalog resolves products from the inventory service. A missing product wraps apperr.ErrNotFound.
type Catalog interface {
	Lookup(ctx context.Context, productID string) (*CatalogItem, error)
}

// StockLedger commits one item against stock. The key makes retries of the same item safe.
type StockLedger interface {
	DecreaseStock(ctx context.Context, productID string, quantity int, idempotencyKey string) (dominventory.StockLevel, error)
}

type PaymentRequest struct {
	OrderID  string
	OwnerID  string
	Amount   decimal.Decimal
	Currency string
	Billing  dompayment.BillingData
}

// PaymentInitiator starts a gateway payment through the payment service.
type PaymentInitiator interface {
	Initiate(ctx context.Context, req PaymentRequest) (*dompayment.Redirect, error)
}
