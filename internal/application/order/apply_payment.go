package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/id"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	useCaseApplyPayment = "order.apply_payment"
	useCaseResumeCommit = "order.resume_stock_commit"
	stockPeer           = "inventory-service"
	stockEndpoint       = "PATCH /products/{id}/stock/decrease"
	// unknownLimit is how many inconclusive attempts an item gets before it goes to an operator.
	unknownLimit = 3
)

// ApplyPaymentResultUseCase reacts to a payment outcome and, on success, commits stock item by item.
type ApplyPaymentResultUseCase struct {
	repo        domain.Repository
	stock       StockLedger
	sagaLog     saga.Log
	queue       saga.ReconciliationQueue
	publisher   domoutbox.Publisher
	idGenerator IDGenerator
	in          application.Instruments
	commits     observability.Counter // stock_commit_total{outcome}
	now         func() time.Time
}

func NewApplyPaymentResultUseCase(
	repo domain.Repository,
	stock StockLedger,
	sagaLog saga.Log,
	queue saga.ReconciliationQueue,
	publisher domoutbox.Publisher,
	idGen IDGenerator,
	tel observability.Observability,
) *ApplyPaymentResultUseCase {
	return &ApplyPaymentResultUseCase{
		repo:        repo,
		stock:       stock,
		sagaLog:     sagaLog,
		queue:       queue,
		publisher:   publisher,
		idGenerator: idGen,
		in:          application.NewInstruments(tel, orderService),
		commits:     observability.Or(tel).Metrics().Counter(observability.MStockCommits),
		now:         time.Now,
	}
}

type ApplyPaymentResultInput struct {
	OrderID string
	Status  dompayment.Status
	Result  domain.PaymentResult
}

type ApplyPaymentResultOutput struct {
	Order *domain.Order
	// Acknowledged means the outcome had already been applied and nothing changed.
	Acknowledged bool
	// Ticket is set when stock could not be committed and an operator must reconcile.
	Ticket *saga.Ticket
}

func (uc *ApplyPaymentResultUseCase) Execute(ctx context.Context, cmd ApplyPaymentResultInput) (_ *ApplyPaymentResultOutput, err error) {
	ctx, run := uc.in.Start(ctx, useCaseApplyPayment, "ApplyPaymentResult",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("payment.status", string(cmd.Status)),
	)
	defer func() { run.End(err) }()
	run.Note(observability.F("order_id", cmd.OrderID), observability.F("payment_status", string(cmd.Status)))

	if cmd.OrderID == "" {
		run.Fail("ORDER_ID_REQUIRED")
		return nil, apperr.Validation("order id is required")
	}
	if !cmd.Status.Terminal() {
		run.Fail("STATUS_INVALID")
		return nil, apperr.Validation("payment status must be %s or %s", dompayment.StatusSuccessful, dompayment.StatusFailed)
	}

	o, err := uc.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		run.Fail("ORDER_LOAD_FAILED")
		return nil, wrapRepositoryError(err)
	}

	at := uc.now()
	succeeded := cmd.Status == dompayment.StatusSuccessful
	o, err = saveWith(ctx, uc.repo, o, func(o *domain.Order) error {
		if succeeded {
			return o.ApplyPaymentSuccess(cmd.Result, at)
		}
		return o.ApplyPaymentFailure(cmd.Result, at)
	})
	switch {
	case errors.Is(err, domain.ErrPaymentSettled) && succeeded && o.SurplusCharge(cmd.Result):
		return uc.refundOwed(ctx, run, o, cmd.Result, at)
	case errors.Is(err, domain.ErrPaymentSettled):
		run.Status = "ALREADY_SETTLED"
		run.Span().AddEvent("order.payment_outcome_acknowledged")
		return &ApplyPaymentResultOutput{Order: o, Acknowledged: true}, nil
	case errors.Is(err, domain.ErrInvalidStateTransition):
		run.Fail("STATE_TRANSITION_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrConflict, err)
	case err != nil:
		run.Fail("ORDER_UPDATE_FAILED")
		return nil, err
	}

	if !succeeded {
		recordStep(ctx, uc.sagaLog, run.Logger(), o.ID, saga.StepAwaitPayment, saga.StepFailed, o.PaymentResult.Message, at)
		publishEvent(ctx, uc.in, uc.publisher, run, domain.NewOrderPaymentFailedEvent(o, at))
		run.Status = "PAYMENT_FAILED_RECORDED"
		return &ApplyPaymentResultOutput{Order: o}, nil
	}

	recordStep(ctx, uc.sagaLog, run.Logger(), o.ID, saga.StepAwaitPayment, saga.StepCompleted, cmd.Result.TransactionID, at)
	out, err := uc.commitStock(ctx, run, o)
	if err != nil {
		run.Fail("STOCK_COMMIT_PERSIST_FAILED")
		return nil, err
	}
	return out, nil
}

// Resume continues an interrupted stock commit. Items already committed are skipped and the
// per-item idempotency key makes a replayed decrement a no-op on the inventory side.
func (uc *ApplyPaymentResultUseCase) Resume(ctx context.Context, orderID string) (_ *ApplyPaymentResultOutput, err error) {
	ctx, run := uc.in.Start(ctx, useCaseResumeCommit, "ResumeStockCommit", attribute.String("order.id", orderID))
	defer func() { run.End(err) }()
	run.Note(observability.F("order_id", orderID))

	o, err := uc.repo.Get(ctx, orderID)
	if err != nil {
		run.Fail("ORDER_LOAD_FAILED")
		return nil, wrapRepositoryError(err)
	}
	if !o.IsPaid || o.Status != domain.StatusProcessing || len(o.PendingStockItems()) == 0 {
		// Nothing left to commit; close the step so recovery stops picking it up.
		run.Status = "NOTHING_TO_RESUME"
		recordStep(ctx, uc.sagaLog, run.Logger(), o.ID, saga.StepCommitStock, saga.StepCompleted, "closed by recovery: "+string(o.Status), uc.now())
		return &ApplyPaymentResultOutput{Order: o, Acknowledged: true}, nil
	}

	out, err := uc.commitStock(ctx, run, o)
	if err != nil {
		run.Fail("STOCK_COMMIT_PERSIST_FAILED")
		return nil, err
	}
	return out, nil
}

// commitStock decrements each pending item in order as an independent atomic operation. The
// first definite failure stops the sequence; committed items are never rolled back.
func (uc *ApplyPaymentResultUseCase) commitStock(ctx context.Context, run *application.Run, o *domain.Order) (*ApplyPaymentResultOutput, error) {
	logger := run.Logger()
	recordStep(ctx, uc.sagaLog, logger, o.ID, saga.StepCommitStock, saga.StepStarted, "", uc.now())

	stopped := false
	for _, idx := range o.PendingStockItems() {
		commit := uc.commitItem(ctx, o, idx)
		uc.commits.Add(1, observability.L("outcome", string(commit.Outcome)))

		var err error
		o, err = saveWith(ctx, uc.repo, o, func(o *domain.Order) error {
			o.RecordStockCommit(commit)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if commit.Outcome == domain.CommitCommitted {
			continue
		}

		logger.Warn("stock_commit_item_failed",
			observability.F("order_id", o.ID),
			observability.F("item_index", idx),
			observability.F("product_id", commit.ProductID),
			observability.F("outcome", string(commit.Outcome)),
			observability.F("reason", commit.Reason),
		)
		if commit.Outcome == domain.CommitUnknown && unknownAttempts(o, idx) < unknownLimit {
			// Left for the recovery worker; the saga step stays started.
			run.Status = "STOCK_COMMIT_DEFERRED"
			return &ApplyPaymentResultOutput{Order: o}, nil
		}
		stopped = true
		break
	}

	if !stopped {
		recordStep(ctx, uc.sagaLog, logger, o.ID, saga.StepCommitStock, saga.StepCompleted, "", uc.now())
		publishEvent(ctx, uc.in, uc.publisher, run, domain.NewOrderPaidEvent(o, uc.now()))
		recordStep(ctx, uc.sagaLog, logger, o.ID, saga.StepNotify, saga.StepCompleted, "order.paid", uc.now())
		run.Status = "STOCK_COMMITTED"
		run.Span().AddEvent("order.stock_committed", trace.WithAttributes(attribute.Int("items", len(o.Items))))
		return &ApplyPaymentResultOutput{Order: o}, nil
	}

	return uc.escalate(ctx, run, o)
}

func (uc *ApplyPaymentResultUseCase) commitItem(ctx context.Context, o *domain.Order, idx int) domain.StockCommit {
	item := o.Items[idx]
	commit := domain.StockCommit{Index: idx, ProductID: item.ProductID, Quantity: item.Quantity}

	started := time.Now()
	level, err := uc.stock.DecreaseStock(ctx, item.ProductID, item.Quantity, StockCommitKey(o.ID, idx))
	uc.in.External(stockPeer, stockEndpoint, application.OutcomeOf(ctx, err), started)
	commit.At = uc.now()

	switch {
	case err == nil:
		commit.Outcome = domain.CommitCommitted
		commit.RemainingStock = level.StockQuantity
	case errors.Is(err, apperr.ErrInsufficientStock):
		commit.Outcome, commit.Reason = domain.CommitFailed, "insufficient stock"
	case errors.Is(err, apperr.ErrNotFound):
		commit.Outcome, commit.Reason = domain.CommitFailed, "product not found"
	case errors.Is(err, apperr.ErrValidation):
		commit.Outcome, commit.Reason = domain.CommitFailed, err.Error()
	default:
		commit.Outcome, commit.Reason = domain.CommitUnknown, err.Error()
	}
	return commit
}

// escalate parks the order in payment_received_stock_error and opens a reconciliation ticket
// with every item's outcome.
func (uc *ApplyPaymentResultUseCase) escalate(ctx context.Context, run *application.Run, o *domain.Order) (*ApplyPaymentResultOutput, error) {
	at := uc.now()
	o, err := saveWith(ctx, uc.repo, o, func(o *domain.Order) error { return o.MarkStockError(at) })
	if err != nil {
		return nil, err
	}

	report := o.CommitReport()
	ticket := &saga.Ticket{
		ID:        uc.idGenerator.NewID(),
		OrderID:   o.ID,
		Kind:      saga.TicketStockCommitFailed,
		Reason:    "payment received but stock could not be committed",
		Items:     ticketItems(report),
		CreatedAt: at.UTC(),
	}
	if uc.queue != nil {
		if err := uc.queue.Enqueue(ctx, ticket); err != nil {
			run.Logger().Error("reconciliation_enqueue_failed",
				observability.F("order_id", o.ID),
				observability.F("error", err),
			)
			ticket = nil
		}
	}

	recordStep(ctx, uc.sagaLog, run.Logger(), o.ID, saga.StepCommitStock, saga.StepFailed, "reconciliation required", at)
	evt := domain.OrderReconciliationRequiredEvent{OrderID: o.ID, Commits: report, OccurredAt: at.UTC()}
	if ticket != nil {
		evt.TicketID = ticket.ID
	}
	publishEvent(ctx, uc.in, uc.publisher, run, evt)

	run.Status = "RECONCILIATION_REQUIRED"
	run.Span().AddEvent("order.reconciliation_required")
	return &ApplyPaymentResultOutput{Order: o, Ticket: ticket}, nil
}

// refundOwed acknowledges a success the order cannot use and leaves the refund to an operator.
// The ticket id is derived from the payment, so redeliveries of that outcome open it only once.
func (uc *ApplyPaymentResultUseCase) refundOwed(ctx context.Context, run *application.Run, o *domain.Order, res domain.PaymentResult, at time.Time) (*ApplyPaymentResultOutput, error) {
	run.Status = "REFUND_OWED"
	run.Logger().Warn("payment_surplus_charge",
		observability.F("order_id", o.ID),
		observability.F("gateway_order_id", res.GatewayOrderID),
		observability.F("transaction_id", res.TransactionID),
	)
	ticket := &saga.Ticket{
		ID:        id.Derive("refund:" + o.ID + ":" + res.GatewayOrderID + ":" + res.TransactionID),
		OrderID:   o.ID,
		Kind:      saga.TicketRefundOwed,
		Reason:    refundReason(o, res),
		CreatedAt: at.UTC(),
	}
	out := &ApplyPaymentResultOutput{Order: o, Acknowledged: true}
	if uc.queue == nil {
		return out, nil
	}
	switch err := uc.queue.Enqueue(ctx, ticket); {
	case err == nil:
		out.Ticket = ticket
		run.Note(observability.F("ticket_id", ticket.ID))
	case errors.Is(err, apperr.ErrConflict):
		// Already opened by an earlier delivery of this outcome.
	default:
		// The payment service redelivers until acknowledged, so failing here retries the ticket.
		run.Fail("RECONCILIATION_ENQUEUE_FAILED")
		return nil, err
	}
	return out, nil
}

func refundReason(o *domain.Order, res domain.PaymentResult) string {
	if !o.IsPaid {
		return fmt.Sprintf("payment %s succeeded for cancelled order", res.GatewayOrderID)
	}
	return fmt.Sprintf("second successful payment %s for an order already paid by %s", res.GatewayOrderID, o.PaymentResult.GatewayOrderID)
}

// StockCommitKey is the idempotency key for committing item idx of an order.
func StockCommitKey(orderID string, idx int) string {
	return fmt.Sprintf("order:%s:item:%d", orderID, idx)
}

// PaymentInitiateKey is the idempotency key for starting payment on an order.
func PaymentInitiateKey(orderID string) string {
	return fmt.Sprintf("order:%s:payment", orderID)
}

func unknownAttempts(o *domain.Order, idx int) int {
	n := 0
	for _, c := range o.StockCommits {
		if c.Index == idx && c.Outcome == domain.CommitUnknown {
			n++
		}
	}
	return n
}

func ticketItems(report []domain.StockCommit) []saga.TicketItem {
	out := make([]saga.TicketItem, len(report))
	for i, c := range report {
		out[i] = saga.TicketItem{ProductID: c.ProductID, Quantity: c.Quantity, Outcome: string(c.Outcome), Reason: c.Reason}
	}
	return out
}
