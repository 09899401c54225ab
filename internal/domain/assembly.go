package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LineRequest — запрошенная позиция до загрузки товара.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// LineInput — снимок товара и запрошенное количество.
type LineInput struct {
	Product  Product
	Quantity int
}

// CheckDuplicateLines отклоняет запрос, где один товар встречается дважды.
func CheckDuplicateLines(lines []LineRequest) error {
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, dup := seen[line.ProductID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateProductInOrder, line.ProductID)
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

// AssembleLines строит позиции и итоговую сумму заказа.
// Цена копируется из снимка товара, сумма накапливается слева направо.
func AssembleLines(inputs []LineInput) ([]OrderLine, decimal.Decimal, error) {
	requests := make([]LineRequest, 0, len(inputs))
	for _, in := range inputs {
		requests = append(requests, LineRequest{ProductID: in.Product.ID, Quantity: in.Quantity})
	}
	if err := CheckDuplicateLines(requests); err != nil {
		return nil, decimal.Zero, err
	}
	if len(inputs) == 0 {
		return nil, decimal.Zero, ErrLinesRequired
	}

	lines := make([]OrderLine, 0, len(inputs))
	total := decimal.Zero
	for _, in := range inputs {
		if in.Quantity < 1 {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s", ErrLineQuantityInvalid, in.Product.ID)
		}
		lineTotal := in.Product.Price.Mul(decimal.NewFromInt(int64(in.Quantity)))
		lines = append(lines, OrderLine{
			ProductID: in.Product.ID,
			Quantity:  in.Quantity,
			UnitPrice: in.Product.Price,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
	}

	return lines, total, nil
}
