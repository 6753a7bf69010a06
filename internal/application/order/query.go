package order

import (
	"context"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseGetOrder     = "order.get"
	useCaseListMyOrders = "order.list_mine"
	useCaseListOrders   = "order.list"
)

// QueryUseCase serves the read side of the order service.
type QueryUseCase struct {
	repo domain.Repository
	in   application.Instruments
}

func NewQueryUseCase(repo domain.Repository, tel observability.Observability) *QueryUseCase {
	return &QueryUseCase{repo: repo, in: application.NewInstruments(tel, orderService)}
}

type GetOrderInput struct {
	Caller  identity.Principal
	OrderID string
}

// Execute returns one order to its owner or an admin.
func (uc *QueryUseCase) Execute(ctx context.Context, cmd GetOrderInput) (_ *domain.Order, err error) {
	ctx, run := uc.in.Start(ctx, useCaseGetOrder, "GetOrder", attribute.String("order.id", cmd.OrderID))
	defer func() { run.End(err) }()

	o, err := uc.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		run.Fail("ORDER_LOAD_FAILED")
		return nil, wrapRepositoryError(err)
	}
	if !cmd.Caller.Allowed(o.OwnerID, identity.RoleAdmin) {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	return o, nil
}

func (uc *QueryUseCase) ListMine(ctx context.Context, caller identity.Principal) (_ []*domain.Order, err error) {
	ctx, run := uc.in.Start(ctx, useCaseListMyOrders, "ListMyOrders")
	defer func() { run.End(err) }()

	if !caller.Authenticated() {
		run.Fail("UNAUTHENTICATED")
		return nil, apperr.ErrUnauthorized
	}
	orders, err := uc.repo.ListByOwner(ctx, caller.UserID)
	if err != nil {
		run.Fail("ORDER_LIST_FAILED")
		return nil, wrapRepositoryError(err)
	}
	run.Note(observability.F("count", len(orders)))
	return orders, nil
}

func (uc *QueryUseCase) ListAll(ctx context.Context, caller identity.Principal) (_ []*domain.Order, err error) {
	ctx, run := uc.in.Start(ctx, useCaseListOrders, "ListOrders")
	defer func() { run.End(err) }()

	if !caller.Allowed("", identity.RoleAdmin) {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	orders, err := uc.repo.List(ctx)
	if err != nil {
		run.Fail("ORDER_LIST_FAILED")
		return nil, wrapRepositoryError(err)
	}
	run.Note(observability.F("count", len(orders)))
	return orders, nil
}
