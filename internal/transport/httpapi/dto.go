package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type createOrderRequest struct {
	CustomerName  string             `json:"customerName"`
	CustomerEmail string             `json:"customerEmail"`
	OrderItems    []orderItemRequest `json:"orderItems"`
}

// productRequest используется и для создания, и для обновления товара.
// Указатели отличают отсутствующее поле от нулевого значения.
type productRequest struct {
	Name     string           `json:"name"`
	Price    *decimal.Decimal `json:"price"`
	Stock    *int             `json:"stock"`
	Category string           `json:"category"`
	IsActive *bool            `json:"isActive"`
}

type orderItemResponse struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	TotalPrice  string `json:"totalPrice"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	CustomerName  string              `json:"customerName"`
	CustomerEmail string              `json:"customerEmail"`
	OrderDate     time.Time           `json:"orderDate"`
	UpdatedAt     time.Time           `json:"updatedAt"`
	Status        domain.OrderStatus  `json:"status"`
	TotalAmount   string              `json:"totalAmount"`
	Version       int64               `json:"version"`
	OrderItems    []orderItemResponse `json:"orderItems"`
}

type productResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Stock     int       `json:"stock"`
	Category  string    `json:"category,omitempty"`
	IsActive  bool      `json:"isActive"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type timelineEventResponse struct {
	Type       string             `json:"type"`
	FromStatus domain.OrderStatus `json:"fromStatus,omitempty"`
	ToStatus   domain.OrderStatus `json:"toStatus,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Occurred   time.Time          `json:"occurred"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     money(p.Price),
		Stock:     p.Stock,
		Category:  p.Category,
		IsActive:  p.Active,
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toProductResponses(products []domain.Product) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return out
}

// toOrderResponse собирает ответ; names подставляет названия товаров, если они известны.
func toOrderResponse(o domain.Order, names func(productID string) string) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Lines))
	for _, line := range o.Lines {
		item := orderItemResponse{
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			UnitPrice:  money(line.UnitPrice),
			TotalPrice: money(line.LineTotal),
		}
		if names != nil {
			item.ProductName = names(line.ProductID)
		}
		items = append(items, item)
	}

	return orderResponse{
		ID:            o.ID,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		OrderDate:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Status:        o.Status,
		TotalAmount:   money(o.TotalAmount),
		Version:       o.Version,
		OrderItems:    items,
	}
}

func toTimelineResponses(events []domain.TimelineEvent) []timelineEventResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, timelineEventResponse{
			Type:       ev.Type,
			FromStatus: ev.FromStatus,
			ToStatus:   ev.ToStatus,
			Reason:     ev.Reason,
			Occurred:   ev.Occurred,
		})
	}
	return out
}
