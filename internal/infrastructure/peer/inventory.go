package peer

import (
	"context"
	"net/http"
	"net/url"

	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/shopspring/decimal"
)

type productResponse struct {
	ID     string          `json:"_id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Images []string        `json:"images"`
}

type decreaseRequest struct {
	Quantity int `json:"quantity"`
}

// Inventory is the order service's view of the inventory service: catalog lookups and stock commits.
type Inventory struct {
	c *Client
}

func NewInventory(c *Client) *Inventory { return &Inventory{c: c} }

func (i *Inventory) Lookup(ctx context.Context, productID string) (*apporder.CatalogItem, error) {
	var res productResponse
	if err := i.c.Do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID), nil, nil, &res); err != nil {
		return nil, err
	}
	item := &apporder.CatalogItem{ProductID: res.ID, Name: res.Name, Price: res.Price}
	if item.ProductID == "" {
		item.ProductID = productID
	}
	if len(res.Images) > 0 {
		item.Image = res.Images[0]
	}
	return item, nil
}

func (i *Inventory) DecreaseStock(ctx context.Context, productID string, quantity int, idempotencyKey string) (dominventory.StockLevel, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{HeaderIdempotencyKey: idempotencyKey}
	}
	var level dominventory.StockLevel
	err := i.c.Do(ctx, http.MethodPatch, "/products/"+url.PathEscape(productID)+"/stock/decrease", headers,
		decreaseRequest{Quantity: quantity}, &level)
	if err != nil {
		return dominventory.StockLevel{}, err
	}
	if level.ProductID == "" {
		level.ProductID = productID
	}
	return level, nil
}
