package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/shopspring/decimal"

	"go.opentelemetry.io/otel/attribute"
)

const (
	paymentService          = "payment-service"
	useCasePaymentInitiate  = "payment.initiate"
	gatewayEndpointRegister = "handshake"
	initiateLockScope       = "payment-initiate"
	idempotencyPeer         = "idempotency-store"
	releaseTimeout          = time.Second
)

type InitiatePaymentInput struct {
	Gateway  string
	OrderID  string
	OwnerID  string
	Amount   decimal.Decimal
	Currency string
	Billing  dompayment.BillingData
	// IdempotencyKey scopes the per-order lock; the order id is used when it is empty.
	IdempotencyKey string
}

// InitiatePaymentUseCase registers the payment with the gateway and stores it as pending before the
// redirect is handed back, so an immediate webhook always finds its record. An order with a
// pending payment of the same amount gets that payment's redirect back instead of a second
// gateway order.
type InitiatePaymentUseCase struct {
	repo        dompayment.Repository
	gateway     Gateway
	locks       InitiateLocks
	idGenerator IDGenerator
	currency    string
	in          application.Instruments
	now         func() time.Time
}

// NewInitiatePaymentUseCase builds the use case. locks may be nil, in which case concurrent
// initiates for one order are only deduplicated once the first has been stored.
func NewInitiatePaymentUseCase(
	repo dompayment.Repository,
	gateway Gateway,
	locks InitiateLocks,
	idGen IDGenerator,
	currency string,
	tel observability.Observability,
) *InitiatePaymentUseCase {
	if currency == "" {
		currency = dompayment.DefaultCurrency
	}
	return &InitiatePaymentUseCase{
		repo:        repo,
		gateway:     gateway,
		locks:       locks,
		idGenerator: idGen,
		currency:    currency,
		in:          application.NewInstruments(tel, paymentService),
		now:         time.Now,
	}
}

func (uc *InitiatePaymentUseCase) Execute(ctx context.Context, cmd InitiatePaymentInput) (_ *dompayment.Redirect, err error) {
	ctx, run := uc.in.Start(ctx, useCasePaymentInitiate, "InitiatePayment",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("payment.gateway", cmd.Gateway),
		attribute.Bool("idempotent", cmd.IdempotencyKey != ""),
	)
	defer func() { run.End(err) }()
	run.Note(observability.F("order_id", cmd.OrderID))

	if err := uc.validate(cmd); err != nil {
		run.Fail("VALIDATION_FAILED")
		return nil, err
	}
	currency := cmd.Currency
	if currency == "" {
		currency = uc.currency
	}
	cents := dompayment.AmountCents(cmd.Amount)
	if cents <= 0 {
		run.Fail("AMOUNT_INVALID")
		return nil, apperr.Validation("amount must be greater than zero")
	}

	release, err := uc.lock(ctx, run, cmd)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := uc.repo.FindPendingByOrderID(ctx, cmd.OrderID)
	switch {
	case err == nil && existing.AmountCents == cents && existing.Redirect.PaymentToken != "":
		run.Status = "PENDING_PAYMENT_REUSED"
		run.Note(observability.F("payment_id", existing.ID), observability.F("gateway_order_id", existing.GatewayOrderID))
		redirect := existing.Redirect
		return &redirect, nil
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		run.Fail("REPO_LOOKUP_FAILED")
		return nil, errors.Join(errors.New("payment: look up pending payment"), err)
	}

	paymentID := uc.idGenerator.NewID()
	started := time.Now()
	reg, err := uc.gateway.Register(ctx, RegisterRequest{
		MerchantOrderID: cmd.OrderID + "-" + paymentID,
		AmountCents:     cents,
		Currency:        currency,
		Billing:         cmd.Billing.Normalized(),
	})
	uc.in.External(uc.gateway.Name(), gatewayEndpointRegister, application.OutcomeOf(ctx, err), started)
	if err != nil {
		run.Fail("GATEWAY_HANDSHAKE_FAILED")
		return nil, apperr.Upstream(uc.gateway.Name(), err)
	}

	p, err := dompayment.New(paymentID, cmd.OrderID, cmd.OwnerID, uc.gateway.Name(), reg.GatewayOrderID, cents, currency, uc.now())
	if err != nil {
		run.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, err
	}
	p.Redirect = reg.Redirect
	// The redirect is only released once the pending record is durable.
	if err := uc.repo.Insert(ctx, p); err != nil {
		run.Fail("REPO_INSERT_FAILED")
		if errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		return nil, errors.Join(errors.New("payment: persist pending payment"), err)
	}
	run.Note(observability.F("payment_id", p.ID), observability.F("gateway_order_id", p.GatewayOrderID))
	run.Span().SetAttributes(attribute.Int64("payment.amount_cents", cents))

	redirect := reg.Redirect
	return &redirect, nil
}

// lock holds the per-order initiate lock. A store that cannot answer fails the call closed; a
// held lock answers 409 so the caller's retry lands after the first request has stored its payment.
func (uc *InitiatePaymentUseCase) lock(ctx context.Context, run *application.Run, cmd InitiatePaymentInput) (func(), error) {
	if uc.locks == nil {
		return func() {}, nil
	}
	key := cmd.IdempotencyKey
	if key == "" {
		key = cmd.OrderID
	}
	started := time.Now()
	ok, err := uc.locks.TryLock(ctx, initiateLockScope, key)
	uc.in.External(idempotencyPeer, "lock", application.OutcomeOf(ctx, err), started)
	if err != nil {
		run.Fail("IDEMPOTENCY_UNAVAILABLE")
		return nil, errors.Join(ErrIdempotencyUnavailable, err)
	}
	if !ok {
		run.Fail("INITIATE_IN_FLIGHT")
		return nil, ErrInitiateInFlight
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := uc.locks.Release(rctx, initiateLockScope, key); err != nil {
			run.Logger().Warn("idempotency_release_failed", observability.F("key", key), observability.F("error", err))
		}
	}, nil
}

func (uc *InitiatePaymentUseCase) validate(cmd InitiatePaymentInput) error {
	switch {
	case strings.TrimSpace(cmd.OrderID) == "":
		return apperr.Validation("order id is required")
	case strings.TrimSpace(cmd.OwnerID) == "":
		return apperr.Validation("user id is required")
	case !strings.EqualFold(cmd.Gateway, uc.gateway.Name()):
		return apperr.Validation("unsupported payment gateway %q", cmd.Gateway)
	case !cmd.Amount.IsPositive():
		return apperr.Validation("amount must be greater than zero")
	}
	return cmd.Billing.Validate()
}
