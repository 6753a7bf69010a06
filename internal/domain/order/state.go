package order

// OrderState implements the state pattern for the payment-driven part of the lifecycle.
// Operator transitions go through Order.SetStatus and are not gated here.
type OrderState interface {
	Status() Status
	OnPaymentSucceeded(o *Order) (OrderState, error)
	OnPaymentFailed(o *Order) (OrderState, error)
	OnStockCommitFailed(o *Order) (OrderState, error)
}

func stateFor(s Status) OrderState {
	switch s {
	case StatusPending:
		return pendingState{}
	case StatusProcessing:
		return processingState{}
	case StatusPaymentFailed:
		return paymentFailedState{}
	case StatusStockError:
		return stockErrorState{}
	default:
		// shipped, delivered and cancelled accept no further payment outcome.
		return settledState{status: s}
	}
}

type pendingState struct{}

func (pendingState) Status() Status { return StatusPending }

func (pendingState) OnPaymentSucceeded(*Order) (OrderState, error) {
	return processingState{}, nil
}

func (pendingState) OnPaymentFailed(*Order) (OrderState, error) {
	return paymentFailedState{}, nil
}

func (pendingState) OnStockCommitFailed(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

type processingState struct{}

func (processingState) Status() Status { return StatusProcessing }

// An operator may have moved an unpaid order here; its payment still has to be recorded.
func (processingState) OnPaymentSucceeded(o *Order) (OrderState, error) {
	if o.IsPaid {
		return nil, ErrPaymentSettled
	}
	return processingState{}, nil
}

func (processingState) OnPaymentFailed(*Order) (OrderState, error) {
	return nil, ErrPaymentSettled
}

func (processingState) OnStockCommitFailed(o *Order) (OrderState, error) {
	if !o.IsPaid {
		return nil, ErrInvalidStateTransition
	}
	return stockErrorState{}, nil
}

type paymentFailedState struct{}

func (paymentFailedState) Status() Status { return StatusPaymentFailed }

// A late success still moves the order forward: the customer has been charged.
func (paymentFailedState) OnPaymentSucceeded(*Order) (OrderState, error) {
	return processingState{}, nil
}

func (paymentFailedState) OnPaymentFailed(*Order) (OrderState, error) {
	return nil, ErrPaymentSettled
}

func (paymentFailedState) OnStockCommitFailed(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

type stockErrorState struct{}

func (stockErrorState) Status() Status { return StatusStockError }

func (stockErrorState) OnPaymentSucceeded(*Order) (OrderState, error) {
	return nil, ErrPaymentSettled
}

func (stockErrorState) OnPaymentFailed(*Order) (OrderState, error) {
	return nil, ErrPaymentSettled
}

func (stockErrorState) OnStockCommitFailed(*Order) (OrderState, error) {
	return stockErrorState{}, nil
}

type settledState struct{ status Status }

func (s settledState) Status() Status { return s.status }

func (settledState) OnPaymentSucceeded(*Order) (OrderState, error) {
	return nil, ErrPaymentSettled
}

func (settledState) OnPaymentFailed(*Order) (OrderState, error) {
	return nil, ErrPaymentSettled
}

func (settledState) OnStockCommitFailed(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}
