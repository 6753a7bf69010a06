package order

import "github.com/shopspring/decimal"

var (
	freeShippingAbove = decimal.NewFromInt(100)
	flatShipping      = decimal.NewFromInt(10)
	taxRate           = decimal.RequireFromString("0.15")
)

type Totals struct {
	Items    decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals prices the items. Shipping is free only when the items price is strictly above 100.
// Total is the sum of the already rounded parts so the three always add up exactly.
func ComputeTotals(items []Item) Totals {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	shipping := flatShipping
	if sum.GreaterThan(freeShippingAbove) {
		shipping = decimal.Zero
	}

	itemsPrice := sum.Round(2)
	tax := taxRate.Mul(sum).Round(2)
	return Totals{
		Items:    itemsPrice,
		Shipping: shipping.Round(2),
		Tax:      tax,
		Total:    itemsPrice.Add(shipping).Add(tax).Round(2),
	}
}
