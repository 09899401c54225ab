package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	if _, exists := r.items[order.ID]; exists {
		r.mu.Unlock()
		return domain.ErrOrderVersionConflict
	}
	// Храним копию, чтобы вызывающий код не мутировал позиции.
	r.items[order.ID] = order.Clone()
	r.mu.Unlock()

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.items, order.ID)
	})
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *orderRepositoryInMemory) ListAll(_ context.Context) ([]domain.Order, error) {
	return r.filter(func(domain.Order) bool { return true }), nil
}

func (r *orderRepositoryInMemory) ListByCustomerEmail(_ context.Context, email string) ([]domain.Order, error) {
	email = strings.TrimSpace(email)
	return r.filter(func(o domain.Order) bool {
		return strings.EqualFold(o.CustomerEmail, email)
	}), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	current, ok := r.items[order.ID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		r.mu.Unlock()
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = order.Clone()
	r.mu.Unlock()

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.items[current.ID] = current
	})
	return nil
}

func (r *orderRepositoryInMemory) ReferencesProduct(_ context.Context, productID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, order := range r.items {
		for _, line := range order.Lines {
			if line.ProductID == productID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *orderRepositoryInMemory) filter(match func(domain.Order) bool) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if !match(order) {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
