package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

type PaymentRepository struct {
	mu        sync.Mutex
	payments  map[string]*domain.Payment
	byGateway map[string]string
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments:  make(map[string]*domain.Payment),
		byGateway: make(map[string]string),
	}
}

func gatewayKey(gateway, gatewayOrderID string) string { return gateway + "|" + gatewayOrderID }

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	gk := gatewayKey(p.Gateway, p.GatewayOrderID)
	if _, exists := r.payments[p.ID]; exists {
		return domain.ErrConflict
	}
	if _, exists := r.byGateway[gk]; exists {
		return domain.ErrConflict
	}
	r.payments[p.ID] = p.Clone()
	r.byGateway[gk] = p.ID
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) FindByGatewayOrderID(ctx context.Context, gateway, gatewayOrderID string) (*domain.Payment, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byGateway[gatewayKey(gateway, gatewayOrderID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.payments[id].Clone(), nil
}

func (r *PaymentRepository) FindPendingByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	var found *domain.Payment
	for _, p := range r.payments {
		if p.OrderID != orderID || p.Status != domain.StatusPending {
			continue
		}
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			found = p
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found.Clone(), nil
}

// Finalize checks and transitions under one lock, so only one of two racing callbacks wins.
func (r *PaymentRepository) Finalize(ctx context.Context, f domain.Finalization) (*domain.Payment, error) {
	_ = ctx
	if err := f.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.payments[f.PaymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := current.Clone()
	if err := next.Apply(f); err != nil {
		return nil, err
	}
	r.payments[f.PaymentID] = next
	return next.Clone(), nil
}

func (r *PaymentRepository) MarkNotified(ctx context.Context, id string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Notified = true
	return nil
}

func (r *PaymentRepository) ListUnnotified(ctx context.Context, limit int) ([]*domain.Payment, error) {
	_ = ctx

	r.mu.Lock()
	out := make([]*domain.Payment, 0)
	for _, p := range r.payments {
		if p.Status.Terminal() && !p.Notified {
			out = append(out, p.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
