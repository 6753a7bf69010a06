package httppresentation

import (
	"time"

	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	"github.com/shopspring/decimal"
)

type orderLineRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"qty" validate:"required,min=1"`
}

type shippingBody struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type createOrderRequest struct {
	OrderItems      []orderLineRequest `json:"orderItems" validate:"required,min=1,dive"`
	ShippingAddress *shippingBody      `json:"shippingAddress" validate:"required"`
	PaymentMethod   string             `json:"paymentMethod" validate:"required"`
}

func (r createOrderRequest) lines() []domorder.LineRequest {
	out := make([]domorder.LineRequest, len(r.OrderItems))
	for i, l := range r.OrderItems {
		out[i] = domorder.LineRequest{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return out
}

func (r createOrderRequest) shipping() *domorder.Shipping {
	if r.ShippingAddress == nil {
		return nil
	}
	s := domorder.Shipping(*r.ShippingAddress)
	return &s
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type resolveTicketRequest struct {
	Note string `json:"note" validate:"required"`
}

type orderItemResponse struct {
	ProductID string          `json:"product"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Quantity  int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

type paymentResultResponse struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	UpdateTime     string          `json:"update_time"`
	GatewayOrderID string          `json:"gatewayOrderId,omitempty"`
	Message        string          `json:"message,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
}

type orderResponse struct {
	ID              string                 `json:"_id"`
	User            string                 `json:"user"`
	OrderItems      []orderItemResponse    `json:"orderItems"`
	ShippingAddress shippingBody           `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	PaymentResult   *paymentResultResponse `json:"paymentResult,omitempty"`
	ItemsPrice      decimal.Decimal        `json:"itemsPrice"`
	ShippingPrice   decimal.Decimal        `json:"shippingPrice"`
	TaxPrice        decimal.Decimal        `json:"taxPrice"`
	TotalPrice      decimal.Decimal        `json:"totalPrice"`
	IsPaid          bool                   `json:"isPaid"`
	PaidAt          *time.Time             `json:"paidAt,omitempty"`
	IsDelivered     bool                   `json:"isDelivered"`
	DeliveredAt     *time.Time             `json:"deliveredAt,omitempty"`
	Status          string                 `json:"status"`
	StockCommits    []domorder.StockCommit `json:"stockCommits,omitempty"`
	FollowUpOwed    bool                   `json:"followUpOwed,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

func toOrderResponse(o *domorder.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			Image:     it.Image,
			Quantity:  it.Quantity,
			Price:     it.UnitPrice,
		}
	}
	resp := orderResponse{
		ID:              o.ID,
		User:            o.OwnerID,
		OrderItems:      items,
		ShippingAddress: shippingBody(o.Shipping),
		PaymentMethod:   string(o.PaymentMethod),
		ItemsPrice:      o.ItemsPrice,
		ShippingPrice:   o.ShippingPrice,
		TaxPrice:        o.TaxPrice,
		TotalPrice:      o.TotalPrice,
		IsPaid:          o.IsPaid,
		PaidAt:          o.PaidAt,
		IsDelivered:     o.IsDelivered,
		DeliveredAt:     o.DeliveredAt,
		Status:          string(o.Status),
		StockCommits:    o.StockCommits,
		FollowUpOwed:    o.FollowUpOwed,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if pr := o.PaymentResult; pr != nil {
		resp.PaymentResult = &paymentResultResponse{
			ID:             pr.TransactionID,
			Status:         pr.Status,
			UpdateTime:     pr.UpdateTime,
			GatewayOrderID: pr.GatewayOrderID,
			Message:        pr.Message,
			Amount:         pr.Amount,
			Currency:       pr.Currency,
		}
	}
	return resp
}

func toOrderResponses(orders []*domorder.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	return out
}

type ticketResponse struct {
	ID         string            `json:"_id"`
	OrderID    string            `json:"order"`
	Kind       string            `json:"kind"`
	Reason     string            `json:"reason"`
	Items      []saga.TicketItem `json:"items"`
	CreatedAt  time.Time         `json:"createdAt"`
	ResolvedAt *time.Time        `json:"resolvedAt,omitempty"`
	ResolvedBy string            `json:"resolvedBy,omitempty"`
	Note       string            `json:"note,omitempty"`
}

func toTicketResponse(t *saga.Ticket) ticketResponse {
	return ticketResponse{
		ID:         t.ID,
		OrderID:    t.OrderID,
		Kind:       string(t.Kind),
		Reason:     t.Reason,
		Items:      t.Items,
		CreatedAt:  t.CreatedAt,
		ResolvedAt: t.ResolvedAt,
		ResolvedBy: t.ResolvedBy,
		Note:       t.Note,
	}
}

type productResponse struct {
	ID                string          `json:"_id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	Images            []string        `json:"images"`
	StockQuantity     int             `json:"stockQuantity"`
	LowStockThreshold int             `json:"lowStockThreshold"`
	IsLowStock        bool            `json:"isLowStock"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func toProductResponse(p *dominventory.Product) productResponse {
	return productResponse{
		ID:                p.ID,
		Name:              p.Name,
		Price:             p.Price,
		Images:            p.Images,
		StockQuantity:     p.StockQuantity,
		LowStockThreshold: p.LowStockThreshold,
		IsLowStock:        p.IsLowStock,
		UpdatedAt:         p.UpdatedAt,
	}
}

type decreaseStockRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}
