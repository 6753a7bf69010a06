package payment

import (
	"strings"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/shopspring/decimal"
)

const notAvailable = "NA"

// BillingData is the customer block the gateway needs for a payment key.
type BillingData struct {
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	Building   string `json:"building,omitempty"`
	Floor      string `json:"floor,omitempty"`
	Apartment  string `json:"apartment,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode,omitempty"`
}

// Normalized fills the optional fields the gateway still insists on.
func (b BillingData) Normalized() BillingData {
	for _, f := range []*string{&b.Building, &b.Floor, &b.Apartment, &b.State, &b.PostalCode} {
		if strings.TrimSpace(*f) == "" {
			*f = notAvailable
		}
	}
	return b
}

func (b BillingData) Validate() error {
	switch {
	case strings.TrimSpace(b.Email) == "":
		return apperr.Validation("billing email is required")
	case strings.TrimSpace(b.Phone) == "":
		return apperr.Validation("billing phone is required")
	case strings.TrimSpace(b.City) == "" || strings.TrimSpace(b.Country) == "":
		return apperr.Validation("billing city and country are required")
	}
	return nil
}

// AmountCents converts a major-unit amount to minor units, rounding half away from zero.
func AmountCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Redirect is what the customer needs to complete payment on the gateway.
type Redirect struct {
	PaymentToken string `json:"payment_token"`
	IframeURL    string `json:"iframe_url"`
}

// Outcome is the payment result pushed to the order service.
type Outcome struct {
	OrderID        string
	Status         Status
	TransactionID  string
	UpdateTime     string
	GatewayOrderID string
	Message        string
	AmountCents    int64
	Currency       string
}

// OutcomeOf builds the notification for a finalized payment.
func OutcomeOf(p *Payment, message, updateTime string) Outcome {
	return Outcome{
		OrderID:        p.OrderID,
		Status:         p.Status,
		TransactionID:  p.GatewayTransactionID,
		UpdateTime:     updateTime,
		GatewayOrderID: p.GatewayOrderID,
		Message:        message,
		AmountCents:    p.AmountCents,
		Currency:       p.Currency,
	}
}
