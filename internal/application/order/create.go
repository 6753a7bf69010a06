package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	catalogPeer        = "inventory-service"
	catalogEndpoint    = "GET /products/{id}"
)

// CreateOrderUseCase snapshots catalog prices into a new pending order.
type CreateOrderUseCase struct {
	repo        domain.Repository
	catalog     Catalog
	sagaLog     saga.Log
	idGenerator IDGenerator
	in          application.Instruments
	now         func() time.Time
}

func NewCreateOrderUseCase(
	repo domain.Repository,
	catalog Catalog,
	sagaLog saga.Log,
	idGen IDGenerator,
	tel observability.Observability,
) *CreateOrderUseCase {
	return &CreateOrderUseCase{
		repo:        repo,
		catalog:     catalog,
		sagaLog:     sagaLog,
		idGenerator: idGen,
		in:          application.NewInstruments(tel, orderService),
		now:         time.Now,
	}
}

type CreateOrderInput struct {
	Caller        identity.Principal
	Lines         []domain.LineRequest
	Shipping      *domain.Shipping
	PaymentMethod domain.PaymentMethod
}

func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *domain.Order, err error) {
	ctx, run := uc.in.Start(ctx, useCaseOrderCreate, "CreateOrder",
		attribute.String("order.owner_id", cmd.Caller.UserID),
		attribute.Int("order.lines", len(cmd.Lines)),
	)
	defer func() { run.End(err) }()

	if !cmd.Caller.Authenticated() {
		run.Fail("UNAUTHENTICATED")
		return nil, apperr.ErrUnauthorized
	}
	// Reject bad input before any peer is called.
	if err := domain.ValidateRequest(cmd.Lines, cmd.Shipping, cmd.PaymentMethod); err != nil {
		run.Fail("VALIDATION_FAILED")
		return nil, err
	}

	items := make([]domain.Item, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		item, err := uc.resolve(ctx, line)
		if err != nil {
			run.Fail("PRODUCT_UNRESOLVED")
			run.Note(observability.F("product_id", line.ProductID))
			return nil, err
		}
		items = append(items, item)
	}

	entity, err := domain.New(uc.idGenerator.NewID(), cmd.Caller.UserID, items, *cmd.Shipping, cmd.PaymentMethod, uc.now())
	if err != nil {
		run.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, fmt.Errorf("order: construct: %w", err)
	}
	if err := uc.repo.Insert(ctx, entity); err != nil {
		run.Fail("REPO_INSERT_FAILED")
		return nil, wrapRepositoryError(err)
	}
	run.Note(observability.F("order_id", entity.ID))

	recordStep(ctx, uc.sagaLog, run.Logger(), entity.ID, saga.StepPriceSnapshot, saga.StepCompleted, "total "+entity.TotalPrice.StringFixed(2), uc.now())
	recordStep(ctx, uc.sagaLog, run.Logger(), entity.ID, saga.StepAwaitPayment, saga.StepStarted, "", uc.now())

	run.Span().SetAttributes(attribute.String("order.status", string(entity.Status)))
	run.Span().AddEvent("order.created", trace.WithAttributes(attribute.String("order.id", entity.ID)))
	return entity, nil
}

func (uc *CreateOrderUseCase) resolve(ctx context.Context, line domain.LineRequest) (domain.Item, error) {
	started := time.Now()
	product, err := uc.catalog.Lookup(ctx, line.ProductID)
	uc.in.External(catalogPeer, catalogEndpoint, application.OutcomeOf(ctx, err), started)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		return domain.Item{}, apperr.Validation("product not found: %s", line.ProductID)
	default:
		return domain.Item{}, apperr.Upstream(catalogPeer, err)
	}

	image := product.Image
	if image == "" {
		image = domain.DefaultItemImage
	}
	return domain.Item{
		ProductID: product.ProductID,
		Name:      product.Name,
		Image:     image,
		Quantity:  line.Quantity,
		UnitPrice: product.Price,
	}, nil
}

// recordStep appends to the saga log; a failed append is logged, never returned.
func recordStep(ctx context.Context, log saga.Log, logger observability.Logger, orderID string, step saga.Step, status saga.StepStatus, detail string, at time.Time) {
	if log == nil {
		return
	}
	err := log.Append(ctx, saga.Entry{OrderID: orderID, Step: step, Status: status, Detail: detail, At: at.UTC()})
	if err != nil {
		logger.Warn("saga_step_append_failed",
			observability.F("order_id", orderID),
			observability.F("step", string(step)),
			observability.F("step_status", string(status)),
			observability.F("error", err),
		)
	}
}
