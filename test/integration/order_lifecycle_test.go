package integration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/catalog"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/inventory"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
)

// recordingPublisher запоминает опубликованные outbox-сообщения.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types(aggregateID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.AggregateID == aggregateID {
			out = append(out, e.EventType)
		}
	}
	return out
}

// OrderLifecycleTestSuite проверяет заказ от создания до публикации событий.
type OrderLifecycleTestSuite struct {
	suite.Suite

	products  domain.ProductRepository
	engine    *lifecycle.Engine
	catalog   *catalog.Service
	worker    *outbox.Worker
	published *recordingPublisher
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.products = memory.NewProductRepository()
	orders := memory.NewOrderRepository()
	tx := memory.NewTransactor()
	outboxRepo := memory.NewOutboxRepository()

	s.catalog = catalog.NewService(s.products, orders, tx, catalog.WithLogger(logger))
	s.engine = lifecycle.NewEngine(orders, s.products, inventory.NewLedger(s.products, inventory.WithLogger(logger)),
		tx, outboxRepo, memory.NewTimelineRepository(),
		lifecycle.WithLogger(logger),
		lifecycle.WithStockChangeHook(s.catalog.InvalidateProducts),
	)

	s.published = &recordingPublisher{}
	s.worker = outbox.NewWorker(outboxRepo, s.published, outbox.WithLogger(logger))
}

func (s *OrderLifecycleTestSuite) createProduct(name, price string, stock int) domain.Product {
	product, err := s.catalog.Create(context.Background(), catalog.ProductInput{
		Name:   name,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	})
	require.NoError(s.T(), err)
	return product
}

func (s *OrderLifecycleTestSuite) stock(id string) int {
	product, err := s.catalog.Get(context.Background(), id)
	require.NoError(s.T(), err)
	return product.Stock
}

func (s *OrderLifecycleTestSuite) TestCreateAndChangeStatus() {
	ctx := context.Background()
	laptop := s.createProduct("Laptop Pro", "1999.00", 3)
	mouse := s.createProduct("Wireless Mouse", "49.99", 10)

	order, err := s.engine.Create(ctx, lifecycle.CreateOrderRequest{
		CustomerName:  "Customer",
		CustomerEmail: "Customer@Example.com",
		Lines: []domain.LineRequest{
			{ProductID: laptop.ID, Quantity: 1},
			{ProductID: mouse.ID, Quantity: 2},
		},
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusPending, order.Status)
	require.True(s.T(), order.TotalAmount.Equal(decimal.RequireFromString("2098.98")))
	require.Equal(s.T(), 2, s.stock(laptop.ID))
	require.Equal(s.T(), 8, s.stock(mouse.ID))

	order, err = s.engine.SetStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusConfirmed, order.Status)

	_, err = s.engine.SetStatus(ctx, order.ID, domain.OrderStatusShipped)
	require.Equal(s.T(), domain.KindInvalidInput, domain.KindOf(err))

	delivered, err := s.engine.Create(ctx, lifecycle.CreateOrderRequest{
		CustomerName:  "Customer",
		CustomerEmail: "customer@example.com",
		Lines:         []domain.LineRequest{{ProductID: mouse.ID, Quantity: 1}},
	})
	require.NoError(s.T(), err)
	delivered, err = s.engine.SetStatus(ctx, delivered.ID, domain.OrderStatusDelivered)
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusDelivered, delivered.Status)

	_, err = s.engine.Cancel(ctx, delivered.ID)
	require.Equal(s.T(), domain.KindInvalidInput, domain.KindOf(err))
	require.Equal(s.T(), 7, s.stock(mouse.ID))

	timeline, err := s.engine.Timeline(ctx, order.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), timeline, 2)

	s.worker.ProcessOnce(ctx)
	require.Equal(s.T(), []string{
		domain.TimelineOrderCreated,
		domain.TimelineOrderStatusChanged,
	}, s.published.types(order.ID))

	byEmail, err := s.engine.ListByCustomerEmail(ctx, "customer@example.com")
	require.NoError(s.T(), err)
	require.Len(s.T(), byEmail, 2)
}

func (s *OrderLifecycleTestSuite) TestCancelRestoresStockAndPublishes() {
	ctx := context.Background()
	product := s.createProduct("Keyboard", "80.00", 4)

	order, err := s.engine.Create(ctx, lifecycle.CreateOrderRequest{
		CustomerName:  "Buyer",
		CustomerEmail: "buyer@example.com",
		Lines:         []domain.LineRequest{{ProductID: product.ID, Quantity: 3}},
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), 1, s.stock(product.ID))

	canceled, err := s.engine.Cancel(ctx, order.ID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusCancelled, canceled.Status)
	require.Equal(s.T(), 4, s.stock(product.ID))

	_, err = s.engine.Cancel(ctx, order.ID)
	require.Equal(s.T(), domain.KindInvalidInput, domain.KindOf(err))
	require.Equal(s.T(), 4, s.stock(product.ID))

	s.worker.ProcessOnce(ctx)
	require.Equal(s.T(), []string{domain.TimelineOrderCreated, domain.TimelineOrderCanceled}, s.published.types(order.ID))

	var payload kafka.OrderEvent
	s.published.mu.Lock()
	last := s.published.events[len(s.published.events)-1]
	s.published.mu.Unlock()
	require.NoError(s.T(), json.Unmarshal(last.Payload, &payload))
	require.Equal(s.T(), kafka.EventTypeOrderCanceled, payload.EventType)
	require.Equal(s.T(), string(domain.OrderStatusPending), payload.PreviousStatus)
}

func (s *OrderLifecycleTestSuite) TestInsufficientStockLeavesNoTrace() {
	ctx := context.Background()
	plenty := s.createProduct("Cable", "5.00", 10)
	scarce := s.createProduct("Adapter", "15.00", 1)

	_, err := s.engine.Create(ctx, lifecycle.CreateOrderRequest{
		CustomerName:  "Buyer",
		CustomerEmail: "buyer@example.com",
		Lines: []domain.LineRequest{
			{ProductID: plenty.ID, Quantity: 2},
			{ProductID: scarce.ID, Quantity: 2},
		},
	})
	require.Error(s.T(), err)
	require.Equal(s.T(), domain.KindInsufficient, domain.KindOf(err))
	require.Equal(s.T(), 10, s.stock(plenty.ID))
	require.Equal(s.T(), 1, s.stock(scarce.ID))

	orders, err := s.engine.ListAll(ctx)
	require.NoError(s.T(), err)
	require.Empty(s.T(), orders)

	s.worker.ProcessOnce(ctx)
	require.Empty(s.T(), s.published.events)
}

func (s *OrderLifecycleTestSuite) TestConcurrentOrdersNeverOversell() {
	ctx := context.Background()
	product := s.createProduct("Limited Edition", "100.00", 5)

	const buyers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.engine.Create(ctx, lifecycle.CreateOrderRequest{
				CustomerName:  "Buyer",
				CustomerEmail: "buyer@example.com",
				Lines:         []domain.LineRequest{{ProductID: product.ID, Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(s.T(), 5, placed)
	require.Equal(s.T(), buyers-5, rejected)
	require.Equal(s.T(), 0, s.stock(product.ID))
}

func (s *OrderLifecycleTestSuite) TestReferencedProductCannotBeDeleted() {
	ctx := context.Background()
	product := s.createProduct("Monitor", "300.00", 2)

	_, err := s.engine.Create(ctx, lifecycle.CreateOrderRequest{
		CustomerName:  "Buyer",
		CustomerEmail: "buyer@example.com",
		Lines:         []domain.LineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	require.NoError(s.T(), err)

	err = s.catalog.Delete(ctx, product.ID)
	require.Equal(s.T(), domain.KindConflict, domain.KindOf(err))

	unused := s.createProduct("Stand", "30.00", 1)
	require.NoError(s.T(), s.catalog.Delete(ctx, unused.ID))
	_, err = s.catalog.Get(ctx, unused.ID)
	require.Equal(s.T(), domain.KindNotFound, domain.KindOf(err))
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
