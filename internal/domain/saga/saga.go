// Package saga models the persisted step log of the checkout saga and the operator
// reconciliation queue that replaces automatic compensation.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
)

var ErrTicketNotFound = fmt.Errorf("reconciliation ticket %w", apperr.ErrNotFound)

type Step string

const (
	StepPriceSnapshot Step = "price_snapshot"
	StepAwaitPayment  Step = "await_payment"
	StepCommitStock   Step = "commit_stock"
	StepNotify        Step = "notify"
)

type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

type Entry struct {
	OrderID string
	Step    Step
	Status  StepStatus
	Detail  string
	At      time.Time
}

func (e Entry) Validate() error {
	if e.OrderID == "" {
		return errors.New("saga: order id is required")
	}
	if e.Step == "" || e.Status == "" {
		return errors.New("saga: step and status are required")
	}
	return nil
}

// Log is append-only; entries come back in append order.
type Log interface {
	Append(ctx context.Context, e Entry) error
	Entries(ctx context.Context, orderID string) ([]Entry, error)
	// Stalled returns orders whose latest entry for step is still StepStarted.
	Stalled(ctx context.Context, step Step) ([]string, error)
}

// LastOf returns the latest entry recorded for step.
func LastOf(entries []Entry, step Step) (Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Step == step {
			return entries[i], true
		}
	}
	return Entry{}, false
}

type TicketKind string

const (
	TicketStockCommitFailed TicketKind = "stock_commit_failed"
	TicketRefundRestockOwed TicketKind = "refund_restock_owed"
	// TicketRefundOwed is a charge the order cannot use, such as a second successful payment.
	TicketRefundOwed        TicketKind = "refund_owed"
)

type TicketItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
}

// Ticket is one unit of operator work; it keeps per-item outcomes so the fix is unambiguous.
type Ticket struct {
	ID         string
	OrderID    string
	Kind       TicketKind
	Reason     string
	Items      []TicketItem
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy string
	Note       string
}

func (t *Ticket) Open() bool { return t.ResolvedAt == nil }

func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Items = append([]TicketItem(nil), t.Items...)
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}

type ReconciliationQueue interface {
	Enqueue(ctx context.Context, t *Ticket) error
	ListOpen(ctx context.Context) ([]*Ticket, error)
	Resolve(ctx context.Context, id, resolvedBy, note string, at time.Time) (*Ticket, error)
}
