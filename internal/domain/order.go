package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, остатки зарезервированы.
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	// OrderStatusDelivered — заказ доставлен, дальнейшие переходы запрещены.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён, остатки возвращены на склад.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderStatuses перечисляет все статусы в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !candidate.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return candidate, nil
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	return slices.Contains(OrderStatuses, s)
}

// IsTerminal сообщает, что из статуса нет выхода через отмену.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusDelivered
}

// OrderLine — позиция заказа. Цена фиксируется на момент оформления.
type OrderLine struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Order агрегирует заказ и его позиции; сохраняется одной единицей.
type Order struct {
	ID            string
	CustomerName  string
	CustomerEmail string
	Status        OrderStatus
	TotalAmount   decimal.Decimal
	Lines         []OrderLine
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProductIDs возвращает идентификаторы товаров в порядке позиций.
func (o *Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Lines))
	for _, line := range o.Lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

// Clone возвращает копию заказа с собственным слайсом позиций.
func (o Order) Clone() Order {
	dst := o
	dst.Lines = append([]OrderLine(nil), o.Lines...)
	return dst
}

// ValidateInvariants проверяет инварианты агрегата и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}

	seen := make(map[string]struct{}, len(o.Lines))
	calc := decimal.Zero
	for _, line := range o.Lines {
		if line.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if _, dup := seen[line.ProductID]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateProductInOrder, line.ProductID))
		}
		seen[line.ProductID] = struct{}{}

		if line.Quantity < 1 {
			errs = append(errs, ErrLineQuantityInvalid)
		}
		if line.UnitPrice.LessThan(MinUnitPrice) {
			errs = append(errs, ErrLinePriceInvalid)
		}
		if !line.LineTotal.Equal(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))) {
			errs = append(errs, ErrLineTotalMismatch)
		}
		calc = calc.Add(line.LineTotal)
	}
	if !calc.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
