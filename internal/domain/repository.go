package domain

import "context"

// ProductRepository описывает хранилище каталога.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// ConditionalUpdateStock атомарно прибавляет delta к остатку, только если
	// текущий остаток >= expectedMinStock и результат не уходит в минус.
	// Возвращает ErrStockConflict, если условие не выполнено, и ErrProductNotFound, если товара нет.
	ConditionalUpdateStock(ctx context.Context, id string, delta, expectedMinStock int) (Product, error)
	// Exists проверяет наличие товара.
	Exists(ctx context.Context, id string) (bool, error)
	// Create сохраняет новый товар.
	Create(ctx context.Context, product Product) error
	// Update перезаписывает поля товара с учётом версии.
	Update(ctx context.Context, product Product) error
	// Delete удаляет товар или возвращает ErrProductNotFound.
	Delete(ctx context.Context, id string) error
	// List возвращает все товары, отсортированные по имени.
	List(ctx context.Context) ([]Product, error)
	// Search ищет по вхождению имени и категории без учёта регистра; пустой фильтр не применяется.
	Search(ctx context.Context, name, category string) ([]Product, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями одной записью.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListAll возвращает все заказы, новые первыми.
	ListAll(ctx context.Context) ([]Order, error)
	// ListByCustomerEmail возвращает заказы клиента, email сравнивается без учёта регистра.
	ListByCustomerEmail(ctx context.Context, email string) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	// ReferencesProduct сообщает, есть ли позиции с этим товаром.
	ReferencesProduct(ctx context.Context, productID string) (bool, error)
}
