package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInsufficientStock возвращается, если на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// Ошибка повторного товара в одном заказе.
	ErrDuplicateProductInOrder = errors.New("duplicate product in order")
	// ErrInvalidTransition — переход статуса запрещён политикой жизненного цикла.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// Ошибка неизвестного статуса заказа.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrStockConflict — конкурентное изменение остатка, условие обновления не выполнено.
	ErrStockConflict = errors.New("stock update conflict")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductVersionConflict сигнализирует о конфликте версий при сохранении товара.
	ErrProductVersionConflict = errors.New("product version conflict")
	// Ошибка повторного создания товара с тем же ID.
	ErrProductAlreadyExists = errors.New("product already exists")
	// ErrProductInUse — товар нельзя удалить, на него ссылаются заказы.
	ErrProductInUse = errors.New("product is referenced by orders")
	// ErrInventoryInconsistency — нарушена согласованность склада (например, release по удалённому товару).
	ErrInventoryInconsistency = errors.New("inventory inconsistency")

	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка при некорректном количестве (< 1).
	ErrLineQuantityInvalid = errors.New("line quantity must be at least 1")
	// Ошибка при цене ниже минимальной.
	ErrLinePriceInvalid = errors.New("line unit price must be at least 0.01")
	// Ошибка расхождения суммы позиции с qty * price.
	ErrLineTotalMismatch = errors.New("line total does not match quantity * unit price")
	// Ошибка расхождения суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match lines sum")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка цены товара ниже минимальной.
	ErrProductPriceInvalid = errors.New("product price must be at least 0.01")
	// Ошибка отрицательного остатка.
	ErrProductStockNegative = errors.New("product stock must be non-negative")

	// Ошибка записи журнала без заказа или типа.
	ErrTimelineEventInvalid = errors.New("timeline event requires order id and type")

	// Ошибка сообщения outbox без event_type.
	ErrOutboxEventTypeRequired = errors.New("outbox message event type is required")
	// ErrOutboxMessageNotFound возвращается при отметке неизвестного сообщения.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")

	// Ошибка отсутствующего ключа идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// Ошибка отсутствующего хеша запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists сигнализирует, что ключ занят живой записью.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound возвращается, если ключа нет в хранилище.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// InsufficientStockError несёт доступный и запрошенный остаток.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidTransitionError описывает запрещённый переход статуса.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// Is позволяет сравнивать через errors.Is(err, ErrInvalidTransition).
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий заказа.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict сообщает, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsStockConflict проверяет, является ли ошибка гонкой при изменении остатка.
func IsStockConflict(err error) bool {
	return errors.Is(err, ErrStockConflict)
}

// ErrorKind — класс ошибки для детерминированного маппинга на границе.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindNotFound     ErrorKind = "not_found"
	KindInsufficient ErrorKind = "insufficient_stock"
	KindInvalidInput ErrorKind = "invalid_input"
	KindConflict     ErrorKind = "conflict"
	KindInternal     ErrorKind = "internal"
)

// KindOf классифицирует ошибку ядра.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInventoryInconsistency):
		// проверяется раньше not found: inconsistency оборачивает ErrProductNotFound
		return KindInternal
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrOrderNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficient
	case errors.Is(err, ErrDuplicateProductInOrder),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrLinesRequired),
		errors.Is(err, ErrLineQuantityInvalid),
		errors.Is(err, ErrProductIDRequired),
		errors.Is(err, ErrProductPriceInvalid),
		errors.Is(err, ErrProductStockNegative):
		return KindInvalidInput
	case errors.Is(err, ErrStockConflict),
		errors.Is(err, ErrOrderVersionConflict),
		errors.Is(err, ErrProductVersionConflict),
		errors.Is(err, ErrProductAlreadyExists),
		errors.Is(err, ErrProductInUse):
		return KindConflict
	default:
		return KindInternal
	}
}
