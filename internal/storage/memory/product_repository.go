package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// productRepositoryInMemory — in-memory каталог для локальной разработки и тестов.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory ProductRepository.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
	}
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// ConditionalUpdateStock проверяет условие и меняет остаток под одной блокировкой.
func (r *productRepositoryInMemory) ConditionalUpdateStock(ctx context.Context, id string, delta, expectedMinStock int) (domain.Product, error) {
	r.mu.Lock()
	product, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return domain.Product{}, domain.ErrProductNotFound
	}
	if product.Stock < expectedMinStock || product.Stock+delta < 0 {
		r.mu.Unlock()
		return domain.Product{}, domain.ErrStockConflict
	}
	product.Stock += delta
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	r.mu.Unlock()

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if current, ok := r.items[id]; ok {
			current.Stock -= delta
			current.Version++
			r.items[id] = current
		}
	})

	return product, nil
}

func (r *productRepositoryInMemory) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.items[id]
	return ok, nil
}

func (r *productRepositoryInMemory) Create(ctx context.Context, product domain.Product) error {
	r.mu.Lock()
	if _, exists := r.items[product.ID]; exists {
		r.mu.Unlock()
		return domain.ErrProductAlreadyExists
	}
	r.items[product.ID] = product
	r.mu.Unlock()

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.items, product.ID)
	})
	return nil
}

// Update перезаписывает товар, если версия совпадает, и увеличивает её.
func (r *productRepositoryInMemory) Update(ctx context.Context, product domain.Product) error {
	r.mu.Lock()
	current, ok := r.items[product.ID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		r.mu.Unlock()
		return domain.ErrProductVersionConflict
	}
	product.Version++
	product.CreatedAt = current.CreatedAt
	r.items[product.ID] = product
	r.mu.Unlock()

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.items[current.ID] = current
	})
	return nil
}

func (r *productRepositoryInMemory) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	current, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrProductNotFound
	}
	delete(r.items, id)
	r.mu.Unlock()

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.items[id] = current
	})
	return nil
}

func (r *productRepositoryInMemory) List(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, p := range r.items {
		result = append(result, p)
	}
	sortProducts(result)
	return result, nil
}

func (r *productRepositoryInMemory) Search(_ context.Context, name, category string) ([]domain.Product, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	category = strings.ToLower(strings.TrimSpace(category))

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0)
	for _, p := range r.items {
		if name != "" && !strings.Contains(strings.ToLower(p.Name), name) {
			continue
		}
		if category != "" && !strings.Contains(strings.ToLower(p.Category), category) {
			continue
		}
		result = append(result, p)
	}
	sortProducts(result)
	return result, nil
}

func sortProducts(products []domain.Product) {
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
