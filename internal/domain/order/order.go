package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = fmt.Errorf("order: %w", apperr.ErrNotFound)
	ErrConflict               = fmt.Errorf("order: %w", apperr.ErrConflict)
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	// ErrPaymentSettled means a payment outcome arrived for an order that can no longer take one.
	// Callers acknowledge it without mutating anything.
	ErrPaymentSettled = errors.New("order: payment outcome already settled")
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusCancelled     Status = "cancelled"
	StatusPaymentFailed Status = "payment_failed"
	StatusStockError    Status = "payment_received_stock_error"
)

var statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
	StatusPaymentFailed,
	StatusStockError,
}

// ParseStatus accepts only the fixed status vocabulary.
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return "", apperr.Validation("invalid status %q, must be one of: %s", s, strings.Join(names, ", "))
}

type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentCOD        PaymentMethod = "cod"
	PaymentWallet     PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCreditCard, PaymentCOD, PaymentWallet:
		return true
	}
	return false
}

const DefaultItemImage = "/uploads/sample.jpg"

type Item struct {
	ProductID string
	Name      string
	Image     string
	Quantity  int
	UnitPrice decimal.Decimal
}

type Shipping struct {
	Address    string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

func (s *Shipping) validate() error {
	if s == nil {
		return apperr.Validation("shipping address is required")
	}
	switch {
	case strings.TrimSpace(s.Address) == "":
		return apperr.Validation("shipping address is required")
	case strings.TrimSpace(s.City) == "":
		return apperr.Validation("shipping city is required")
	case strings.TrimSpace(s.Country) == "":
		return apperr.Validation("shipping country is required")
	case strings.TrimSpace(s.Phone) == "":
		return apperr.Validation("shipping phone is required")
	}
	return nil
}

// PaymentResult is the order's own copy of the gateway outcome.
type PaymentResult struct {
	TransactionID  string
	Status         string
	UpdateTime     string
	GatewayOrderID string
	Message        string
	Amount         decimal.Decimal
	Currency       string
}

type CommitOutcome string

const (
	CommitCommitted    CommitOutcome = "committed"
	CommitFailed       CommitOutcome = "failed"
	CommitUnknown      CommitOutcome = "unknown"
	CommitNotAttempted CommitOutcome = "not_attempted"
)

// StockCommit records one attempted stock decrement for the item at Index.
type StockCommit struct {
	Index          int           `json:"index"`
	ProductID      string        `json:"product_id"`
	Quantity       int           `json:"quantity"`
	Outcome        CommitOutcome `json:"outcome"`
	Reason         string        `json:"reason,omitempty"`
	RemainingStock int           `json:"remaining_stock"`
	At             time.Time     `json:"at"`
}

// LineRequest is a requested order line before catalog resolution.
type LineRequest struct {
	ProductID string
	Quantity  int
}

type Order struct {
	ID            string
	OwnerID       string
	Items         []Item
	Shipping      Shipping
	PaymentMethod PaymentMethod

	ItemsPrice    decimal.Decimal
	ShippingPrice decimal.Decimal
	TaxPrice      decimal.Decimal
	TotalPrice    decimal.Decimal

	IsPaid        bool
	PaidAt        *time.Time
	IsDelivered   bool
	DeliveredAt   *time.Time
	Status        Status
	PaymentResult *PaymentResult
	StockCommits  []StockCommit
	// FollowUpOwed is set when a paid order is cancelled: a refund and restock are owed but not executed.
	FollowUpOwed bool

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateRequest rejects a checkout request before anything is resolved against the catalog.
func ValidateRequest(lines []LineRequest, shipping *Shipping, method PaymentMethod) error {
	if len(lines) == 0 {
		return apperr.Validation("no order items")
	}
	for i, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return apperr.Validation("item %d: product id is required", i)
		}
		if l.Quantity < 1 {
			return apperr.Validation("item %d: quantity must be at least 1", i)
		}
	}
	if err := shipping.validate(); err != nil {
		return err
	}
	if method == "" {
		return apperr.Validation("payment method is required")
	}
	if !method.Valid() {
		return apperr.Validation("unsupported payment method %q", method)
	}
	return nil
}

// New builds a pending order from resolved items, snapshotting their prices into the totals.
func New(id, ownerID string, items []Item, shipping Shipping, method PaymentMethod, now time.Time) (*Order, error) {
	if id == "" {
		return nil, errors.New("order: id is required")
	}
	if ownerID == "" {
		return nil, apperr.Validation("owner is required")
	}
	lines := make([]LineRequest, len(items))
	for i, it := range items {
		if it.UnitPrice.IsNegative() {
			return nil, apperr.Validation("item %d: price must not be negative", i)
		}
		lines[i] = LineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	if err := ValidateRequest(lines, &shipping, method); err != nil {
		return nil, err
	}

	totals := ComputeTotals(items)
	now = now.UTC()
	return &Order{
		ID:            id,
		OwnerID:       ownerID,
		Items:         append([]Item(nil), items...),
		Shipping:      shipping,
		PaymentMethod: method,
		ItemsPrice:    totals.Items,
		ShippingPrice: totals.Shipping,
		TaxPrice:      totals.Tax,
		TotalPrice:    totals.Total,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (o *Order) state() OrderState { return stateFor(o.Status) }

// CanInitiatePayment reports why a payment may not be started for the order.
func (o *Order) CanInitiatePayment() error {
	if o.IsPaid {
		return apperr.Validation("order is already paid")
	}
	switch o.Status {
	case StatusCancelled, StatusPaymentFailed, StatusStockError, StatusDelivered:
		return apperr.Validation("cannot initiate payment for order with status: %s", o.Status)
	}
	return nil
}

// ApplyPaymentSuccess marks the order paid. ErrPaymentSettled means the outcome must be acknowledged only.
func (o *Order) ApplyPaymentSuccess(res PaymentResult, at time.Time) error {
	if o.IsPaid {
		return ErrPaymentSettled
	}
	next, err := o.state().OnPaymentSucceeded(o)
	if err != nil {
		return err
	}
	at = at.UTC()
	if res.Status == "" {
		res.Status = "successful"
	}
	o.IsPaid = true
	o.PaidAt = &at
	o.PaymentResult = &res
	o.Status = next.Status()
	o.touch(at)
	return nil
}

// SurplusCharge reports whether a successful payment res brings in money the order will not use:
// the order was already paid by a different gateway payment, or it was cancelled unpaid.
func (o *Order) SurplusCharge(res PaymentResult) bool {
	if !o.IsPaid {
		return o.Status == StatusCancelled
	}
	paid := o.PaymentResult
	if paid == nil {
		return false
	}
	if res.GatewayOrderID != "" && paid.GatewayOrderID != "" {
		return res.GatewayOrderID != paid.GatewayOrderID
	}
	return res.TransactionID != "" && paid.TransactionID != "" && res.TransactionID != paid.TransactionID
}

// ApplyPaymentFailure marks the payment failed; isPaid stays false.
func (o *Order) ApplyPaymentFailure(res PaymentResult, at time.Time) error {
	if o.IsPaid {
		return ErrPaymentSettled
	}
	next, err := o.state().OnPaymentFailed(o)
	if err != nil {
		return err
	}
	res.Status = "failed"
	if res.Message == "" {
		res.Message = "payment failed or was cancelled"
	}
	o.PaymentResult = &res
	o.Status = next.Status()
	o.touch(at)
	return nil
}

// PendingStockItems returns the indexes of items without a committed stock record, in order.
func (o *Order) PendingStockItems() []int {
	done := make(map[int]bool, len(o.StockCommits))
	for _, c := range o.StockCommits {
		if c.Outcome == CommitCommitted {
			done[c.Index] = true
		}
	}
	out := make([]int, 0, len(o.Items))
	for i := range o.Items {
		if !done[i] {
			out = append(out, i)
		}
	}
	return out
}

// RecordStockCommit appends the outcome of one stock decrement attempt.
func (o *Order) RecordStockCommit(c StockCommit) {
	c.At = c.At.UTC()
	o.StockCommits = append(o.StockCommits, c)
	o.touch(c.At)
}

// MarkStockError moves a paid order into the operator-only reconciliation state.
func (o *Order) MarkStockError(at time.Time) error {
	next, err := o.state().OnStockCommitFailed(o)
	if err != nil {
		return err
	}
	o.Status = next.Status()
	o.touch(at)
	return nil
}

// CommitReport lists every item with its latest stock outcome, including items never attempted.
func (o *Order) CommitReport() []StockCommit {
	latest := make(map[int]StockCommit, len(o.StockCommits))
	for _, c := range o.StockCommits {
		latest[c.Index] = c
	}
	out := make([]StockCommit, len(o.Items))
	for i, it := range o.Items {
		if c, ok := latest[i]; ok {
			out[i] = c
			continue
		}
		out[i] = StockCommit{Index: i, ProductID: it.ProductID, Quantity: it.Quantity, Outcome: CommitNotAttempted}
	}
	return out
}

// SetStatus is the operator transition. It reports whether a refund/restock follow-up became owed.
func (o *Order) SetStatus(s Status, at time.Time) (followUpOwed bool) {
	at = at.UTC()
	if s == StatusDelivered && !o.IsDelivered {
		o.IsDelivered = true
		o.DeliveredAt = &at
	}
	if s == StatusCancelled && o.IsPaid && !o.FollowUpOwed {
		o.FollowUpOwed = true
		followUpOwed = true
	}
	o.Status = s
	o.touch(at)
	return followUpOwed
}

func (o *Order) touch(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	o.UpdatedAt = at.UTC()
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.StockCommits = append([]StockCommit(nil), o.StockCommits...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	if o.PaymentResult != nil {
		r := *o.PaymentResult
		c.PaymentResult = &r
	}
	return &c
}
