package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
)

type ReconciliationQueue struct {
	mu      sync.RWMutex
	tickets map[string]*saga.Ticket
}

func NewReconciliationQueue() *ReconciliationQueue {
	return &ReconciliationQueue{tickets: make(map[string]*saga.Ticket)}
}

func (q *ReconciliationQueue) Enqueue(ctx context.Context, t *saga.Ticket) error {
	_ = ctx
	if t == nil || t.ID == "" {
		return fmt.Errorf("reconciliation queue: id is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.tickets[t.ID]; exists {
		return fmt.Errorf("reconciliation queue: ticket %s: %w", t.ID, apperr.ErrConflict)
	}
	q.tickets[t.ID] = t.Clone()
	return nil
}

func (q *ReconciliationQueue) ListOpen(ctx context.Context) ([]*saga.Ticket, error) {
	_ = ctx

	q.mu.RLock()
	out := make([]*saga.Ticket, 0)
	for _, t := range q.tickets {
		if t.Open() {
			out = append(out, t.Clone())
		}
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *ReconciliationQueue) Resolve(ctx context.Context, id, resolvedBy, note string, at time.Time) (*saga.Ticket, error) {
	_ = ctx

	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tickets[id]
	if !ok {
		return nil, saga.ErrTicketNotFound
	}
	if !t.Open() {
		return nil, fmt.Errorf("reconciliation queue: ticket %s already resolved: %w", id, apperr.ErrConflict)
	}
	at = at.UTC()
	t.ResolvedAt = &at
	t.ResolvedBy = resolvedBy
	t.Note = note
	return t.Clone(), nil
}
