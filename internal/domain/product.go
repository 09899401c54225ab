package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinUnitPrice задаёт минимальную цену за единицу товара.
var MinUnitPrice = decimal.RequireFromString("0.01")

// Product — карточка товара в каталоге.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Category string
	Active   bool
	// Version растёт при каждой записи, используется для optimistic locking правок каталога.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет инварианты товара, которые обязан соблюдать склад.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if p.Price.LessThan(MinUnitPrice) {
		errs = append(errs, ErrProductPriceInvalid)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrProductStockNegative)
	}

	return errs
}
