package order

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseInitiatePayment = "order.initiate_payment"
	paymentPeer            = "payment-service"
	paymentEndpoint        = "POST /payments/initiate/{gateway}"
	fallbackEmail          = "notprovided@example.com"
	fallbackName           = "N/A"
)

// InitiatePaymentUseCase asks the payment service for a redirect, charging the price snapshot.
type InitiatePaymentUseCase struct {
	repo     domain.Repository
	payments PaymentInitiator
	sagaLog  saga.Log
	currency string
	in       application.Instruments
	now      func() time.Time
}

func NewInitiatePaymentUseCase(
	repo domain.Repository,
	payments PaymentInitiator,
	sagaLog saga.Log,
	currency string,
	tel observability.Observability,
) *InitiatePaymentUseCase {
	if currency == "" {
		currency = dompayment.DefaultCurrency
	}
	return &InitiatePaymentUseCase{
		repo:     repo,
		payments: payments,
		sagaLog:  sagaLog,
		currency: currency,
		in:       application.NewInstruments(tel, orderService),
		now:      time.Now,
	}
}

type InitiatePaymentInput struct {
	Caller  identity.Principal
	OrderID string
}

func (uc *InitiatePaymentUseCase) Execute(ctx context.Context, cmd InitiatePaymentInput) (_ *dompayment.Redirect, err error) {
	ctx, run := uc.in.Start(ctx, useCaseInitiatePayment, "InitiatePayment", attribute.String("order.id", cmd.OrderID))
	defer func() { run.End(err) }()
	run.Note(observability.F("order_id", cmd.OrderID))

	o, err := uc.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		run.Fail("ORDER_LOAD_FAILED")
		return nil, wrapRepositoryError(err)
	}
	// Only the owner may pay; an admin role does not grant it.
	if !cmd.Caller.Allowed(o.OwnerID, "") {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	if err := o.CanInitiatePayment(); err != nil {
		run.Fail("ORDER_NOT_PAYABLE")
		return nil, err
	}

	req := PaymentRequest{
		OrderID:  o.ID,
		OwnerID:  o.OwnerID,
		Amount:   o.TotalPrice,
		Currency: uc.currency,
		Billing:  BillingFor(cmd.Caller, o.Shipping),
	}

	started := time.Now()
	redirect, err := uc.payments.Initiate(ctx, req)
	uc.in.External(paymentPeer, paymentEndpoint, application.OutcomeOf(ctx, err), started)
	if err != nil {
		run.Fail("PAYMENT_INITIATION_FAILED")
		return nil, apperr.Upstream(paymentPeer, err)
	}

	recordStep(ctx, uc.sagaLog, run.Logger(), o.ID, saga.StepAwaitPayment, saga.StepStarted, "payment initiated "+req.Amount.StringFixed(2)+" "+req.Currency, uc.now())
	return redirect, nil
}

// BillingFor derives gateway billing data from the shipping address and the caller's claims.
func BillingFor(caller identity.Principal, s domain.Shipping) dompayment.BillingData {
	first, last := caller.SplitName()
	if first == "" {
		first = fallbackName
	}
	if last == "" {
		last = fallbackName
	}
	email := caller.Email
	if email == "" {
		email = fallbackEmail
	}
	return dompayment.BillingData{
		Email:      email,
		FirstName:  first,
		LastName:   last,
		Phone:      s.Phone,
		Street:     s.Address,
		City:       s.City,
		Country:    s.Country,
		PostalCode: s.PostalCode,
	}.Normalized()
}
