// Package lifecycle управляет жизненным циклом заказа: оформление с резервом остатков,
// смена статуса и отмена с возвратом на склад. Каждая операция выполняется одной транзакцией.
package lifecycle

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/inventory"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/retry"
)

const (
	opCreate    = "create"
	opSetStatus = "set_status"
	opCancel    = "cancel"

	aggregateOrder = "order"
	tracerName     = "github.com/vladislavdragonenkov/ordersvc/internal/service/lifecycle"
)

// EventPublisher отправляет события заказа наружу после фиксации транзакции.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *kafka.OrderEvent) error
}

// StockChangeHook вызывается после commit со списком товаров, чей остаток изменился.
type StockChangeHook func(ctx context.Context, productIDs []string)

// CreateOrderRequest описывает новый заказ.
type CreateOrderRequest struct {
	CustomerName  string
	CustomerEmail string
	Lines         []domain.LineRequest
}

// Engine изменяет заказы и связанные с ними остатки. Других путей записи у них нет.
type Engine struct {
	orders    domain.OrderRepository
	products  domain.ProductRepository
	ledger    *inventory.Ledger
	tx        domain.Transactor
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	publisher EventPublisher
	onStock   StockChangeHook
	tracer    trace.Tracer
	metrics   *metrics.OrderMetrics
	retry     retry.Config
	logger    *log.Entry
	now       func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

// WithPublisher подключает публикацию событий в брокер.
func WithPublisher(publisher EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithStockChangeHook задаёт обработчик изменения остатков (например, инвалидацию кэша каталога).
func WithStockChangeHook(hook StockChangeHook) Option {
	return func(e *Engine) {
		e.onStock = hook
	}
}

// WithTracer задаёт tracer OpenTelemetry.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMetrics подключает метрики заказов.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRetryConfig задаёт политику повторов при конфликте версий заказа.
func WithRetryConfig(cfg retry.Config) Option {
	return func(e *Engine) {
		e.retry = cfg
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine создаёт движок жизненного цикла заказа.
func NewEngine(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	ledger *inventory.Ledger,
	tx domain.Transactor,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	opts ...Option,
) *Engine {
	e := &Engine{
		orders:   orders,
		products: products,
		ledger:   ledger,
		tx:       tx,
		outbox:   outbox,
		timeline: timeline,
		tracer:   otel.Tracer(tracerName),
		retry:    retry.DefaultConfig(),
		logger:   log.WithField("component", "order-lifecycle"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// change описывает зафиксированное изменение для пост-commit действий.
type change struct {
	order     domain.Order
	previous  domain.OrderStatus
	eventType kafka.EventType
	stock     []string
}

// Create оформляет заказ: резервирует остатки всех позиций и сохраняет заказ в PENDING.
// При любой ошибке ни резерв, ни заказ не сохраняются.
func (e *Engine) Create(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.Create", trace.WithAttributes(
		attribute.Int("order.lines", len(req.Lines)),
	))
	defer span.End()
	defer e.metrics.TrackInFlight()()
	started := time.Now()
	defer func() { e.metrics.ObserveOperation(opCreate, time.Since(started)) }()

	if err := validateLineRequests(req.Lines); err != nil {
		return domain.Order{}, e.fail(span, opCreate, "", err)
	}

	var created domain.Order
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		inputs := make([]domain.LineInput, 0, len(req.Lines))
		for _, line := range req.Lines {
			product, err := e.products.Get(ctx, line.ProductID)
			if err != nil {
				return fmt.Errorf("load product %s: %w", line.ProductID, err)
			}
			inputs = append(inputs, domain.LineInput{Product: product, Quantity: line.Quantity})
		}

		lines, total, err := domain.AssembleLines(inputs)
		if err != nil {
			return err
		}

		now := e.now()
		order := domain.Order{
			ID:            uuid.NewString(),
			CustomerName:  strings.TrimSpace(req.CustomerName),
			CustomerEmail: strings.TrimSpace(req.CustomerEmail),
			Status:        domain.OrderStatusPending,
			TotalAmount:   total,
			Lines:         lines,
			Version:       0,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}

		// Резерв идёт в порядке product id, чтобы встречные заказы не блокировали строки крест-накрест.
		for _, line := range sortedByProduct(lines) {
			if err := e.ledger.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		if err := e.orders.Create(ctx, order); err != nil {
			return fmt.Errorf("persist order: %w", err)
		}
		if err := e.emit(ctx, order, "", domain.TimelineOrderCreated, fmt.Sprintf("order created with %d lines", len(lines))); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, e.fail(span, opCreate, "", err)
	}

	span.SetAttributes(attribute.String("order.id", created.ID))
	e.afterCommit(ctx, change{
		order:     created,
		eventType: kafka.EventTypeOrderCreated,
		stock:     created.ProductIDs(),
	})
	e.metrics.RecordOrderCreated()
	e.logger.WithFields(log.Fields{
		"order_id": created.ID,
		"lines":    len(created.Lines),
		"total":    created.TotalAmount.StringFixed(2),
	}).Info("order created")

	return created.Clone(), nil
}

// SetStatus переводит заказ из PENDING в status.
// Переход в CANCELLED выполняется как отмена и возвращает остатки на склад.
func (e *Engine) SetStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.SetStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", string(status)),
	))
	defer span.End()
	defer e.metrics.TrackInFlight()()
	started := time.Now()
	defer func() { e.metrics.ObserveOperation(opSetStatus, time.Since(started)) }()

	if !status.Valid() {
		return domain.Order{}, e.fail(span, opSetStatus, orderID, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status))
	}

	var result change
	err := e.withVersionRetry(ctx, orderID, func(ctx context.Context) error {
		order, err := e.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending || status == domain.OrderStatusPending {
			return &domain.InvalidTransitionError{From: order.Status, To: status}
		}
		if status == domain.OrderStatusCancelled {
			result, err = e.cancelLocked(ctx, order)
			return err
		}

		previous := order.Status
		order.Status = status
		order.UpdatedAt = e.now()
		if err := e.orders.Save(ctx, order); err != nil {
			return err
		}
		order.Version++

		reason := fmt.Sprintf("%s -> %s", previous, status)
		if err := e.emit(ctx, order, previous, domain.TimelineOrderStatusChanged, reason); err != nil {
			return err
		}
		result = change{order: order, previous: previous, eventType: kafka.EventTypeOrderStatusChanged}
		return nil
	})
	if err != nil {
		return domain.Order{}, e.fail(span, opSetStatus, orderID, err)
	}

	e.afterCommit(ctx, result)
	e.metrics.RecordStatusTransition(string(result.previous), string(result.order.Status))
	if result.order.Status == domain.OrderStatusCancelled {
		e.metrics.RecordOrderCanceled()
	}
	e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     result.previous,
		"to":       result.order.Status,
	}).Info("order status changed")

	return result.order.Clone(), nil
}

// Cancel отменяет заказ и возвращает остатки всех позиций.
// Отмена DELIVERED или уже отменённого заказа возвращает InvalidTransitionError.
func (e *Engine) Cancel(ctx context.Context, orderID string) (domain.Order, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.Cancel", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()
	defer e.metrics.TrackInFlight()()
	started := time.Now()
	defer func() { e.metrics.ObserveOperation(opCancel, time.Since(started)) }()

	var result change
	err := e.withVersionRetry(ctx, orderID, func(ctx context.Context) error {
		order, err := e.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		result, err = e.cancelLocked(ctx, order)
		return err
	})
	if err != nil {
		return domain.Order{}, e.fail(span, opCancel, orderID, err)
	}

	e.afterCommit(ctx, result)
	e.metrics.RecordStatusTransition(string(result.previous), string(domain.OrderStatusCancelled))
	e.metrics.RecordOrderCanceled()
	e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     result.previous,
	}).Info("order canceled")

	return result.order.Clone(), nil
}

// cancelLocked выполняет отмену внутри уже открытой транзакции.
func (e *Engine) cancelLocked(ctx context.Context, order domain.Order) (change, error) {
	if order.Status.IsTerminal() {
		return change{}, &domain.InvalidTransitionError{From: order.Status, To: domain.OrderStatusCancelled}
	}

	for _, line := range sortedByProduct(order.Lines) {
		if err := e.ledger.Release(ctx, line.ProductID, line.Quantity); err != nil {
			return change{}, err
		}
	}

	previous := order.Status
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = e.now()
	if err := e.orders.Save(ctx, order); err != nil {
		return change{}, err
	}
	order.Version++

	if err := e.emit(ctx, order, previous, domain.TimelineOrderCanceled, fmt.Sprintf("canceled from %s", previous)); err != nil {
		return change{}, err
	}
	return change{
		order:     order,
		previous:  previous,
		eventType: kafka.EventTypeOrderCanceled,
		stock:     order.ProductIDs(),
	}, nil
}

// Get возвращает заказ по идентификатору.
func (e *Engine) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return e.orders.Get(ctx, orderID)
}

// ListAll возвращает все заказы, новые первыми.
func (e *Engine) ListAll(ctx context.Context) ([]domain.Order, error) {
	return e.orders.ListAll(ctx)
}

// ListByCustomerEmail возвращает заказы клиента без учёта регистра email.
func (e *Engine) ListByCustomerEmail(ctx context.Context, email string) ([]domain.Order, error) {
	return e.orders.ListByCustomerEmail(ctx, strings.TrimSpace(email))
}

// Timeline возвращает журнал событий заказа.
func (e *Engine) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := e.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return e.timeline.List(ctx, orderID)
}

func (e *Engine) withVersionRetry(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, e.retry, domain.IsVersionConflict, func(int) error {
		return e.tx.WithinTx(ctx, fn)
	}, func(attempt int, err error) {
		e.metrics.RecordConflictRetry("order_version")
		e.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt,
		}).Warn("version conflict detected, retrying")
	})
}

// emit пишет событие в outbox и timeline в текущей транзакции.
func (e *Engine) emit(ctx context.Context, order domain.Order, previous domain.OrderStatus, timelineType, reason string) error {
	eventType, ok := kafka.EventTypeForTimeline(timelineType)
	if !ok {
		return fmt.Errorf("no event type for timeline type %q", timelineType)
	}
	payload, err := json.Marshal(kafka.NewOrderEvent(eventType, order, previous))
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", timelineType, err)
	}

	if _, err := e.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: aggregateOrder,
		AggregateID:   order.ID,
		EventType:     timelineType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", timelineType, err)
	}

	if err := e.timeline.Append(ctx, domain.NewTimelineEvent(timelineType, order, previous, reason)); err != nil {
		return fmt.Errorf("append %s: %w", timelineType, err)
	}
	return nil
}

// afterCommit выполняет действия, не влияющие на результат операции.
func (e *Engine) afterCommit(ctx context.Context, c change) {
	e.metrics.RecordOutboxEvent()
	e.metrics.RecordTimelineEvent()

	if len(c.stock) > 0 && e.onStock != nil {
		e.onStock(ctx, c.stock)
	}

	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishOrderEvent(ctx, kafka.NewOrderEvent(c.eventType, c.order, c.previous)); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id":   c.order.ID,
			"event_type": c.eventType,
		}).Warn("failed to publish order event")
	}
}

func (e *Engine) fail(span trace.Span, op, orderID string, err error) error {
	kind := domain.KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	e.metrics.RecordOrderRejected(op, string(kind))

	entry := e.logger.WithError(err).WithFields(log.Fields{
		"op":       op,
		"order_id": orderID,
		"kind":     kind,
	})
	if kind == domain.KindInternal {
		entry.Error("order operation failed")
	} else {
		entry.Warn("order operation rejected")
	}
	return err
}

func validateLineRequests(lines []domain.LineRequest) error {
	if err := domain.CheckDuplicateLines(lines); err != nil {
		return err
	}
	if len(lines) == 0 {
		return domain.ErrLinesRequired
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.ErrProductIDRequired
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: product %s", domain.ErrLineQuantityInvalid, line.ProductID)
		}
	}
	return nil
}

func sortedByProduct(lines []domain.OrderLine) []domain.OrderLine {
	sorted := slices.Clone(lines)
	slices.SortFunc(sorted, func(a, b domain.OrderLine) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}
