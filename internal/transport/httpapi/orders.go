package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithStatus(c, http.StatusBadRequest, "malformed request body", nil)
		return
	}
	if fields := req.validate(); len(fields) > 0 {
		h.abortValidation(c, fields)
		return
	}

	ctx := c.Request.Context()
	order, err := h.orders.Create(ctx, req.toCommand())
	if err != nil {
		h.abortWithError(c, "create_order", err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(order, h.productNames(ctx)))
}

func (h *Handler) listOrders(c *gin.Context) {
	ctx := c.Request.Context()
	orders, err := h.orders.ListAll(ctx)
	if err != nil {
		h.abortWithError(c, "list_orders", err)
		return
	}
	c.JSON(http.StatusOK, h.orderResponses(ctx, orders))
}

func (h *Handler) listCustomerOrders(c *gin.Context) {
	ctx := c.Request.Context()
	orders, err := h.orders.ListByCustomerEmail(ctx, c.Param("email"))
	if err != nil {
		h.abortWithError(c, "list_customer_orders", err)
		return
	}
	c.JSON(http.StatusOK, h.orderResponses(ctx, orders))
}

func (h *Handler) getOrder(c *gin.Context) {
	ctx := c.Request.Context()
	order, err := h.orders.Get(ctx, c.Param("id"))
	if err != nil {
		h.abortWithError(c, "get_order", err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order, h.productNames(ctx)))
}

func (h *Handler) orderTimeline(c *gin.Context) {
	events, err := h.orders.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abortWithError(c, "order_timeline", err)
		return
	}
	c.JSON(http.StatusOK, toTimelineResponses(events))
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	raw, ok := c.GetQuery("status")
	if !ok {
		h.abortValidation(c, []FieldError{{Field: "status", Message: "is required"}})
		return
	}
	status, err := domain.ParseOrderStatus(raw)
	if err != nil {
		h.abortValidation(c, []FieldError{{Field: "status", Message: "invalid status provided"}})
		return
	}

	ctx := c.Request.Context()
	order, err := h.orders.SetStatus(ctx, c.Param("id"), status)
	if err != nil {
		h.abortWithError(c, "update_order_status", err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order, h.productNames(ctx)))
}

func (h *Handler) cancelOrder(c *gin.Context) {
	if _, err := h.orders.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		h.abortWithError(c, "cancel_order", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) orderResponses(ctx context.Context, orders []domain.Order) []orderResponse {
	names := h.productNames(ctx)
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o, names))
	}
	return out
}

// productNames подставляет названия товаров из каталога. Промах оставляет поле пустым.
func (h *Handler) productNames(ctx context.Context) func(string) string {
	if h.products == nil {
		return nil
	}
	seen := make(map[string]string)
	return func(id string) string {
		if name, ok := seen[id]; ok {
			return name
		}
		var name string
		if p, err := h.products.Get(ctx, id); err == nil {
			name = p.Name
		}
		seen[id] = name
		return name
	}
}
