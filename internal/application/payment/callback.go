package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	useCasePaymentCallback = "payment.callback"
	publishTimeout         = 300 * time.Millisecond
)

// Callback results, also the result label of payment_callbacks_total.
const (
	ResultProcessed        = "processed"
	ResultNotifyDeferred   = "notify_deferred"
	ResultPending          = "pending"
	ResultDuplicate        = "duplicate"
	ResultUnmatched        = "unmatched"
	ResultInvalidSignature = "invalid_signature"
	ResultMalformed        = "malformed"
	ResultError            = "error"
)

type CallbackInput struct {
	Gateway   string
	Body      []byte
	Signature string
}

type CallbackResult struct {
	Result  string
	Payment *dompayment.Payment
}

// HandleCallbackUseCase finalizes a payment from a gateway webhook and relays the outcome to the
// order service. Every path is acknowledged to the gateway; Result says what actually happened.
type HandleCallbackUseCase struct {
	repo      dompayment.Repository
	gateway   Gateway
	notifier  Notifier
	publisher domoutbox.Publisher
	in        application.Instruments
	callbacks observability.Counter // payment_callbacks_total{gateway,result}
	now       func() time.Time
}

func NewHandleCallbackUseCase(
	repo dompayment.Repository,
	gateway Gateway,
	notifier Notifier,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *HandleCallbackUseCase {
	return &HandleCallbackUseCase{
		repo:      repo,
		gateway:   gateway,
		notifier:  notifier,
		publisher: publisher,
		in:        application.NewInstruments(tel, paymentService),
		callbacks: observability.Or(tel).Metrics().Counter(observability.MPaymentCallbacks),
		now:       time.Now,
	}
}

func (uc *HandleCallbackUseCase) Execute(ctx context.Context, cmd CallbackInput) (res *CallbackResult, err error) {
	ctx, run := uc.in.Start(ctx, useCasePaymentCallback, "HandlePaymentCallback", attribute.String("payment.gateway", cmd.Gateway))
	res = &CallbackResult{Result: ResultError}
	defer func() {
		uc.callbacks.Add(1, observability.L("gateway", uc.gateway.Name()), observability.L("result", res.Result))
		run.Note(observability.F("result", res.Result))
		run.End(err)
	}()

	cb, err := uc.gateway.ParseCallback(cmd.Body, cmd.Signature)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		res.Result = ResultInvalidSignature
		run.Status = "SIGNATURE_REJECTED"
		run.Logger().Warn("payment_callback_signature_invalid")
		return res, nil
	case err != nil:
		res.Result = ResultMalformed
		run.Status = "MALFORMED"
		run.Logger().Warn("payment_callback_malformed", observability.F("error", err))
		return res, nil
	}
	run.Note(observability.F("gateway_order_id", cb.GatewayOrderID), observability.F("transaction_id", cb.TransactionID))

	if cb.Pending {
		// Intermediate notification; the final one follows.
		res.Result = ResultPending
		run.Status = "PENDING_ACK"
		return res, nil
	}

	p, err := uc.repo.FindByGatewayOrderID(ctx, uc.gateway.Name(), cb.GatewayOrderID)
	switch {
	case errors.Is(err, dompayment.ErrNotFound):
		res.Result = ResultUnmatched
		run.Status = "UNMATCHED"
		run.Logger().Warn("payment_callback_unmatched", observability.F("gateway_order_id", cb.GatewayOrderID))
		uc.publish(ctx, run, dompayment.CallbackUnmatchedEvent{
			Gateway:        uc.gateway.Name(),
			GatewayOrderID: cb.GatewayOrderID,
			TransactionID:  cb.TransactionID,
			Success:        cb.Success,
			OccurredAt:     uc.now().UTC(),
		})
		return res, nil
	case err != nil:
		run.Fail("PAYMENT_LOOKUP_FAILED")
		return res, fmt.Errorf("payment: find by gateway order: %w", err)
	}
	run.Note(observability.F("payment_id", p.ID), observability.F("order_id", p.OrderID))

	status := dompayment.StatusFailed
	if cb.Success {
		status = dompayment.StatusSuccessful
	}
	// One conditional write; of two racing deliveries exactly one passes it.
	p, err = uc.repo.Finalize(ctx, dompayment.Finalization{
		PaymentID:     p.ID,
		Status:        status,
		TransactionID: cb.TransactionID,
		At:            uc.now(),
	})
	switch {
	case errors.Is(err, dompayment.ErrAlreadyFinalized):
		res.Result = ResultDuplicate
		run.Status = "ALREADY_FINALIZED"
		run.Span().AddEvent("payment.callback_duplicate")
		return res, nil
	case err != nil:
		run.Fail("PAYMENT_FINALIZE_FAILED")
		return res, fmt.Errorf("payment: finalize: %w", err)
	}
	res.Payment = p
	run.Span().AddEvent("payment.finalized", trace.WithAttributes(attribute.String("payment.status", string(p.Status))))

	message := cb.Message
	if message == "" {
		message = string(p.Status)
	}
	outcome := dompayment.OutcomeOf(p, message, cb.CreatedAt)
	if cb.AmountCents > 0 {
		outcome.AmountCents, outcome.Currency = cb.AmountCents, cb.Currency
	}
	if err := deliver(ctx, uc.repo, uc.notifier, uc.in, p, outcome); err != nil {
		// The payment stays unnotified and the redelivery worker picks it up.
		res.Result = ResultNotifyDeferred
		run.Status = "NOTIFY_DEFERRED"
		run.Logger().Warn("order_notification_failed", observability.F("error", err))
	} else {
		res.Result = ResultProcessed
		p.Notified = true
	}

	uc.publish(ctx, run, dompayment.NewFinalizedEvent(p))
	return res, nil
}

func (uc *HandleCallbackUseCase) publish(ctx context.Context, run *application.Run, e domoutbox.Event) {
	if uc.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := uc.publisher.Publish(pubCtx, e); err != nil {
		run.Span().RecordError(err)
		run.Logger().Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err),
		)
	}
}
