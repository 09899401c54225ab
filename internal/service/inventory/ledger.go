// Package inventory ведёт учёт остатков: резерв при оформлении заказа и возврат при отмене.
package inventory

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/retry"
)

// Ledger списывает и возвращает остатки через условное обновление хранилища.
type Ledger struct {
	products domain.ProductRepository
	retry    retry.Config
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithRetryConfig задаёт политику повторов при ErrStockConflict.
func WithRetryConfig(cfg retry.Config) Option {
	return func(l *Ledger) {
		l.retry = cfg
	}
}

// WithMetrics подключает метрики резервов и возвратов.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger создаёт Ledger поверх репозитория товаров.
func NewLedger(products domain.ProductRepository, opts ...Option) *Ledger {
	l := &Ledger{
		products: products,
		retry:    retry.DefaultConfig(),
		logger:   log.WithField("component", "inventory-ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve уменьшает остаток товара на qty целиком либо не меняет ничего.
// Возвращает *domain.InsufficientStockError, если остатка не хватает.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: %d", domain.ErrLineQuantityInvalid, qty)
	}

	err := retry.Do(ctx, l.retry, domain.IsStockConflict, func(int) error {
		product, err := l.products.Get(ctx, productID)
		if err != nil {
			return err
		}
		if product.Stock < qty {
			return &domain.InsufficientStockError{
				ProductID: productID,
				Available: product.Stock,
				Requested: qty,
			}
		}
		_, err = l.products.ConditionalUpdateStock(ctx, productID, -qty, qty)
		return err
	}, func(attempt int, err error) {
		l.metrics.RecordConflictRetry("stock")
		l.logger.WithFields(log.Fields{
			"product_id": productID,
			"quantity":   qty,
			"attempt":    attempt,
		}).Debug("stock reservation conflict, retrying")
	})

	l.metrics.RecordReservation(resultOf(err))
	if err != nil {
		if domain.IsStockConflict(err) {
			return fmt.Errorf("reserve %s: %w", productID, err)
		}
		return err
	}
	return nil
}

// Release возвращает qty единиц на склад.
// Отсутствие товара означает рассогласование данных и возвращается как ErrInventoryInconsistency.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: %d", domain.ErrLineQuantityInvalid, qty)
	}

	err := retry.Do(ctx, l.retry, domain.IsStockConflict, func(int) error {
		_, err := l.products.ConditionalUpdateStock(ctx, productID, qty, 0)
		return err
	}, func(int, error) {
		l.metrics.RecordConflictRetry("stock")
	})

	l.metrics.RecordRelease(resultOf(err))
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrProductNotFound) {
		l.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"quantity":   qty,
		}).Error("cannot release stock of missing product")
		return fmt.Errorf("%w: release %s: %w", domain.ErrInventoryInconsistency, productID, err)
	}
	return fmt.Errorf("release %s: %w", productID, err)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ResultInsufficient
	case errors.Is(err, domain.ErrStockConflict):
		return metrics.ResultConflict
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.ResultNotFound
	default:
		return metrics.ResultError
	}
}
