package order

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseUpdateStatus = "order.update_status"

// UpdateOrderStatusUseCase is the operator transition over the fixed status vocabulary.
type UpdateOrderStatusUseCase struct {
	repo        domain.Repository
	queue       saga.ReconciliationQueue
	publisher   domoutbox.Publisher
	idGenerator IDGenerator
	in          application.Instruments
	now         func() time.Time
}

func NewUpdateOrderStatusUseCase(
	repo domain.Repository,
	queue saga.ReconciliationQueue,
	publisher domoutbox.Publisher,
	idGen IDGenerator,
	tel observability.Observability,
) *UpdateOrderStatusUseCase {
	return &UpdateOrderStatusUseCase{
		repo:        repo,
		queue:       queue,
		publisher:   publisher,
		idGenerator: idGen,
		in:          application.NewInstruments(tel, orderService),
		now:         time.Now,
	}
}

type UpdateOrderStatusInput struct {
	Caller  identity.Principal
	OrderID string
	Status  string
}

func (uc *UpdateOrderStatusUseCase) Execute(ctx context.Context, cmd UpdateOrderStatusInput) (_ *domain.Order, err error) {
	ctx, run := uc.in.Start(ctx, useCaseUpdateStatus, "UpdateOrderStatus",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.requested_status", cmd.Status),
	)
	defer func() { run.End(err) }()
	run.Note(observability.F("order_id", cmd.OrderID))

	if !cmd.Caller.Allowed("", identity.RoleAdmin) {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	status, err := domain.ParseStatus(cmd.Status)
	if err != nil {
		run.Fail("STATUS_INVALID")
		return nil, err
	}

	o, err := uc.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		run.Fail("ORDER_LOAD_FAILED")
		return nil, wrapRepositoryError(err)
	}

	at := uc.now()
	var followUp bool
	o, err = saveWith(ctx, uc.repo, o, func(o *domain.Order) error {
		followUp = o.SetStatus(status, at)
		return nil
	})
	if err != nil {
		run.Fail("ORDER_UPDATE_FAILED")
		return nil, err
	}

	if followUp {
		// Cancelling a paid order only records the debt; refund and restock stay with an operator.
		uc.enqueueFollowUp(ctx, run, o, at)
	}
	if status == domain.StatusCancelled {
		publishEvent(ctx, uc.in, uc.publisher, run, domain.OrderCancelledEvent{OrderID: o.ID, FollowUpOwed: o.FollowUpOwed, OccurredAt: at.UTC()})
	}
	return o, nil
}

func (uc *UpdateOrderStatusUseCase) enqueueFollowUp(ctx context.Context, run *application.Run, o *domain.Order, at time.Time) {
	if uc.queue == nil {
		return
	}
	ticket := &saga.Ticket{
		ID:        uc.idGenerator.NewID(),
		OrderID:   o.ID,
		Kind:      saga.TicketRefundRestockOwed,
		Reason:    "paid order cancelled: refund and restock owed",
		Items:     ticketItems(o.CommitReport()),
		CreatedAt: at.UTC(),
	}
	if err := uc.queue.Enqueue(ctx, ticket); err != nil {
		run.Status = "FOLLOW_UP_ENQUEUE_FAILED"
		run.Logger().Error("reconciliation_enqueue_failed",
			observability.F("order_id", o.ID),
			observability.F("error", err),
		)
		return
	}
	run.Note(observability.F("ticket_id", ticket.ID))
}
