package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
)

var (
	ErrNotFound = fmt.Errorf("payment: %w", apperr.ErrNotFound)
	ErrConflict = fmt.Errorf("payment: %w", apperr.ErrConflict)
	// ErrAlreadyFinalized is returned by the conditional pending->terminal transition when
	// another delivery got there first.
	ErrAlreadyFinalized = errors.New("payment: already finalized")
	ErrInvalidStatus    = errors.New("payment: status must be successful or failed")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusSuccessful || s == StatusFailed }

const DefaultCurrency = "EGP"

type Payment struct {
	ID                   string
	OrderID              string
	OwnerID              string
	Gateway              string
	GatewayOrderID       string
	GatewayTransactionID string
	AmountCents          int64
	Currency             string
	Status               Status
	// Redirect is what the customer was sent to; a repeated initiate for the order returns it again.
	Redirect Redirect
	// Notified is set once the order service acknowledged the outcome.
	Notified  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(id, orderID, ownerID, gateway, gatewayOrderID string, amountCents int64, currency string, now time.Time) (*Payment, error) {
	switch {
	case id == "":
		return nil, errors.New("payment: id is required")
	case orderID == "":
		return nil, apperr.Validation("order id is required")
	case ownerID == "":
		return nil, apperr.Validation("user id is required")
	case gatewayOrderID == "":
		return nil, errors.New("payment: gateway order id is required")
	case amountCents <= 0:
		return nil, apperr.Validation("amount must be greater than zero")
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	now = now.UTC()
	return &Payment{
		ID:             id,
		OrderID:        orderID,
		OwnerID:        ownerID,
		Gateway:        gateway,
		GatewayOrderID: gatewayOrderID,
		AmountCents:    amountCents,
		Currency:       currency,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Finalization is the single pending->terminal transition a store applies atomically.
type Finalization struct {
	PaymentID     string
	Status        Status
	TransactionID string
	At            time.Time
}

func (f Finalization) Validate() error {
	if f.PaymentID == "" {
		return errors.New("payment: id is required")
	}
	if !f.Status.Terminal() {
		return ErrInvalidStatus
	}
	return nil
}

// Apply mutates an in-memory copy; stores call it only after their own conditional check passed.
func (p *Payment) Apply(f Finalization) error {
	if p.Status != StatusPending {
		return ErrAlreadyFinalized
	}
	p.Status = f.Status
	p.GatewayTransactionID = f.TransactionID
	p.UpdatedAt = f.At.UTC()
	return nil
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
