// Package catalog управляет карточками товаров и кэширует чтения.
// Кэш никогда не участвует в решениях о списании остатков.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/retry"
)

const allProductsKey = "products:all"

func productKey(id string) string {
	return "product:" + id
}

// Cache хранит снимки товаров. Любая ошибка Get трактуется как промах.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// ProductInput — изменяемые поля товара.
type ProductInput struct {
	Name     string
	Price    decimal.Decimal
	Stock    int
	Category string
	Active   bool
}

// Service реализует операции каталога.
type Service struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	tx       domain.Transactor
	cache    Cache
	retry    retry.Config
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithCache подключает кэш чтений.
func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithRetryConfig задаёт политику повторов при конфликте версий товара.
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *Service) {
		s.retry = cfg
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService создаёт сервис каталога.
func NewService(products domain.ProductRepository, orders domain.OrderRepository, tx domain.Transactor, opts ...Option) *Service {
	s := &Service{
		products: products,
		orders:   orders,
		tx:       tx,
		retry:    retry.DefaultConfig(),
		logger:   log.WithField("component", "catalog"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List возвращает все товары.
func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	var cached []domain.Product
	if s.lookup(ctx, allProductsKey, &cached) {
		return cached, nil
	}

	products, err := s.products.List(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, allProductsKey, products)
	return products, nil
}

// Get возвращает товар по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	var cached domain.Product
	if s.lookup(ctx, productKey(id), &cached) {
		return cached, nil
	}

	product, err := s.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	s.store(ctx, productKey(id), product)
	return product, nil
}

// Search ищет товары по вхождению имени и категории без учёта регистра.
func (s *Service) Search(ctx context.Context, name, category string) ([]domain.Product, error) {
	return s.products.Search(ctx, strings.TrimSpace(name), strings.TrimSpace(category))
}

// Create добавляет товар с новым идентификатором.
func (s *Service) Create(ctx context.Context, in ProductInput) (domain.Product, error) {
	now := s.now()
	product := domain.Product{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Price:     in.Price,
		Stock:     in.Stock,
		Category:  strings.TrimSpace(in.Category),
		Active:    in.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := firstInvariantError(&product); err != nil {
		return domain.Product{}, err
	}

	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.products.Create(ctx, product)
	}); err != nil {
		return domain.Product{}, err
	}
	s.InvalidateProducts(ctx, nil)

	s.logger.WithField("product_id", product.ID).Info("product created")
	return product, nil
}

// Update перезаписывает поля товара. Конфликт версий повторяется со свежим снимком.
// Каждая попытка идёт отдельной транзакцией, поэтому правка остатка не смешивается
// с незафиксированным резервом заказа.
func (s *Service) Update(ctx context.Context, id string, in ProductInput) (domain.Product, error) {
	var updated domain.Product
	err := retry.Do(ctx, s.retry, func(err error) bool {
		return errors.Is(err, domain.ErrProductVersionConflict)
	}, func(int) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			current, err := s.products.Get(ctx, id)
			if err != nil {
				return err
			}

			current.Name = strings.TrimSpace(in.Name)
			current.Price = in.Price
			current.Stock = in.Stock
			current.Category = strings.TrimSpace(in.Category)
			current.Active = in.Active
			current.UpdatedAt = s.now()
			if err := firstInvariantError(&current); err != nil {
				return err
			}

			if err := s.products.Update(ctx, current); err != nil {
				return err
			}
			current.Version++
			updated = current
			return nil
		})
	}, func(attempt int, err error) {
		s.logger.WithFields(log.Fields{
			"product_id": id,
			"attempt":    attempt,
		}).Debug("product version conflict, retrying")
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.InvalidateProducts(ctx, []string{id})
	s.logger.WithField("product_id", id).Info("product updated")
	return updated, nil
}

// Delete удаляет товар, если на него не ссылается ни один заказ.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.products.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrProductNotFound
		}

		referenced, err := s.orders.ReferencesProduct(ctx, id)
		if err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: %s", domain.ErrProductInUse, id)
		}
		return s.products.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.InvalidateProducts(ctx, []string{id})
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

// InvalidateProducts сбрасывает снимки товаров и общий список.
func (s *Service) InvalidateProducts(ctx context.Context, ids []string) {
	if s.cache == nil {
		return
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	keys = append(keys, allProductsKey)

	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.WithError(err).WithField("keys", keys).Warn("failed to invalidate product cache")
	}
}

func (s *Service) lookup(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	return s.cache.Get(ctx, key, dest) == nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.logger.WithError(err).WithField("key", key).Debug("failed to cache products")
	}
}

func firstInvariantError(p *domain.Product) error {
	if errs := p.ValidateInvariants(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
