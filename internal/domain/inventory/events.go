package inventory

import "time"

// LowStockEvent is emitted when a decrement leaves a product at or under its threshold.
type LowStockEvent struct {
	ProductID     string    `json:"product_id"`
	StockQuantity int       `json:"stock_quantity"`
	Threshold     int       `json:"threshold"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (LowStockEvent) EventName() string { return "inventory.low_stock" }
func (e LowStockEvent) EventKey() string { return e.ProductID }

func NewLowStockEvent(level StockLevel, threshold int) LowStockEvent {
	return LowStockEvent{
		ProductID:     level.ProductID,
		StockQuantity: level.StockQuantity,
		Threshold:     threshold,
		OccurredAt:    time.Now().UTC(),
	}
}
