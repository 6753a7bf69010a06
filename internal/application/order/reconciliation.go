package order

import (
	"context"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseListTickets   = "reconciliation.list"
	useCaseResolveTicket = "reconciliation.resolve"
)

// ReconciliationUseCase is the operator view over tickets opened by failed stock commits and
// paid cancellations.
type ReconciliationUseCase struct {
	queue saga.ReconciliationQueue
	in    application.Instruments
	now   func() time.Time
}

func NewReconciliationUseCase(queue saga.ReconciliationQueue, tel observability.Observability) *ReconciliationUseCase {
	return &ReconciliationUseCase{queue: queue, in: application.NewInstruments(tel, orderService), now: time.Now}
}

func (uc *ReconciliationUseCase) ListOpen(ctx context.Context, caller identity.Principal) (_ []*saga.Ticket, err error) {
	ctx, run := uc.in.Start(ctx, useCaseListTickets, "ListReconciliation")
	defer func() { run.End(err) }()

	if !caller.Allowed("", identity.RoleAdmin) {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	tickets, err := uc.queue.ListOpen(ctx)
	if err != nil {
		run.Fail("TICKET_LIST_FAILED")
		return nil, err
	}
	run.Note(observability.F("count", len(tickets)))
	return tickets, nil
}

type ResolveTicketInput struct {
	Caller   identity.Principal
	TicketID string
	Note     string
}

func (uc *ReconciliationUseCase) Execute(ctx context.Context, cmd ResolveTicketInput) (_ *saga.Ticket, err error) {
	ctx, run := uc.in.Start(ctx, useCaseResolveTicket, "ResolveTicket", attribute.String("ticket.id", cmd.TicketID))
	defer func() { run.End(err) }()
	run.Note(observability.F("ticket_id", cmd.TicketID))

	if !cmd.Caller.Allowed("", identity.RoleAdmin) {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	if strings.TrimSpace(cmd.Note) == "" {
		run.Fail("NOTE_REQUIRED")
		return nil, apperr.Validation("a resolution note is required")
	}
	t, err := uc.queue.Resolve(ctx, cmd.TicketID, cmd.Caller.UserID, cmd.Note, uc.now())
	if err != nil {
		run.Fail("TICKET_RESOLVE_FAILED")
		return nil, err
	}
	run.Note(observability.F("order_id", t.OrderID))
	return t, nil
}
