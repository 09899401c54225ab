// Package httpapi публикует движок заказов и каталог через REST API на gin.
package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/catalog"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/lifecycle"
)

// OrderService — операции жизненного цикла заказа, нужные HTTP-слою.
type OrderService interface {
	Create(ctx context.Context, req lifecycle.CreateOrderRequest) (domain.Order, error)
	SetStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
	Cancel(ctx context.Context, orderID string) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ListAll(ctx context.Context) ([]domain.Order, error)
	ListByCustomerEmail(ctx context.Context, email string) ([]domain.Order, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// ProductService — операции каталога, нужные HTTP-слою.
type ProductService interface {
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id string) (domain.Product, error)
	Search(ctx context.Context, name, category string) ([]domain.Product, error)
	Create(ctx context.Context, in catalog.ProductInput) (domain.Product, error)
	Update(ctx context.Context, id string, in catalog.ProductInput) (domain.Product, error)
	Delete(ctx context.Context, id string) error
}

var (
	_ OrderService   = (*lifecycle.Engine)(nil)
	_ ProductService = (*catalog.Service)(nil)
)

// Handler обслуживает маршруты /api/orders и /api/products.
type Handler struct {
	orders   OrderService
	products ProductService
	idem     domain.IdempotencyRepository
	idemTTL  time.Duration
	tracer   trace.Tracer
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idem = repo
		if ttl > 0 {
			h.idemTTL = ttl
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithTracer задаёт tracer для входящих запросов.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Handler) {
		if tracer != nil {
			h.tracer = tracer
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler создаёт Handler.
func NewHandler(orders OrderService, products ProductService, opts ...Option) *Handler {
	h := &Handler{
		orders:   orders,
		products: products,
		idemTTL:  domain.DefaultIdempotencyTTL,
		tracer:   otel.Tracer("github.com/vladislavdragonenkov/ordersvc/internal/transport/httpapi"),
		logger:   log.WithField("component", "http-api"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router собирает gin.Engine со всеми маршрутами.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.tracing(), h.requestLogger())
	h.Register(r)
	return r
}

// Register вешает маршруты на переданный роутер.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	orders := api.Group("/orders")
	orders.POST("", h.idempotent(), h.createOrder)
	orders.GET("", h.listOrders)
	orders.GET("/customer/:email", h.listCustomerOrders)
	orders.GET("/:id", h.getOrder)
	orders.GET("/:id/timeline", h.orderTimeline)
	orders.PUT("/:id/status", h.idempotent(), h.updateOrderStatus)
	orders.DELETE("/:id", h.idempotent(), h.cancelOrder)

	products := api.Group("/products")
	products.GET("", h.listProducts)
	products.GET("/search", h.searchProducts)
	products.GET("/:id", h.getProduct)
	products.POST("", h.createProduct)
	products.PUT("/:id", h.updateProduct)
	products.DELETE("/:id", h.deleteProduct)
}
