package httpapi

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/catalog"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/lifecycle"
)

const (
	productNameMin     = 2
	productNameMax     = 100
	productCategoryMax = 50
	customerNameMax    = 100
)

// FieldError описывает нарушение правила для одного поля запроса.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (r productRequest) validate() []FieldError {
	var errs []FieldError

	name := strings.TrimSpace(r.Name)
	if n := utf8.RuneCountInString(name); n < productNameMin || n > productNameMax {
		errs = append(errs, FieldError{"name", fmt.Sprintf("must be between %d and %d characters", productNameMin, productNameMax)})
	}

	switch {
	case r.Price == nil:
		errs = append(errs, FieldError{"price", "is required"})
	case r.Price.LessThan(domain.MinUnitPrice):
		errs = append(errs, FieldError{"price", "must be at least 0.01"})
	case !r.Price.Equal(r.Price.Round(2)):
		errs = append(errs, FieldError{"price", "must have at most 2 decimal places"})
	}

	switch {
	case r.Stock == nil:
		errs = append(errs, FieldError{"stock", "is required"})
	case *r.Stock < 0:
		errs = append(errs, FieldError{"stock", "must be non-negative"})
	}

	if utf8.RuneCountInString(strings.TrimSpace(r.Category)) > productCategoryMax {
		errs = append(errs, FieldError{"category", fmt.Sprintf("must be at most %d characters", productCategoryMax)})
	}
	if r.IsActive == nil {
		errs = append(errs, FieldError{"isActive", "is required"})
	}

	return errs
}

// toInput вызывается только после успешной validate.
func (r productRequest) toInput() catalog.ProductInput {
	return catalog.ProductInput{
		Name:     r.Name,
		Price:    *r.Price,
		Stock:    *r.Stock,
		Category: r.Category,
		Active:   *r.IsActive,
	}
}

func (r createOrderRequest) validate() []FieldError {
	var errs []FieldError

	name := strings.TrimSpace(r.CustomerName)
	switch {
	case name == "":
		errs = append(errs, FieldError{"customerName", "is required"})
	case utf8.RuneCountInString(name) > customerNameMax:
		errs = append(errs, FieldError{"customerName", fmt.Sprintf("must be at most %d characters", customerNameMax)})
	}

	email := strings.TrimSpace(r.CustomerEmail)
	switch {
	case email == "":
		errs = append(errs, FieldError{"customerEmail", "is required"})
	case !validEmail(email):
		errs = append(errs, FieldError{"customerEmail", "must be a valid email address"})
	}

	if len(r.OrderItems) == 0 {
		errs = append(errs, FieldError{"orderItems", "must not be empty"})
	}
	for i, item := range r.OrderItems {
		if strings.TrimSpace(item.ProductID) == "" {
			errs = append(errs, FieldError{fmt.Sprintf("orderItems[%d].productId", i), "is required"})
		}
		switch {
		case item.Quantity == nil:
			errs = append(errs, FieldError{fmt.Sprintf("orderItems[%d].quantity", i), "is required"})
		case *item.Quantity < 1:
			errs = append(errs, FieldError{fmt.Sprintf("orderItems[%d].quantity", i), "must be at least 1"})
		}
	}

	return errs
}

func (r createOrderRequest) toCommand() lifecycle.CreateOrderRequest {
	lines := make([]domain.LineRequest, 0, len(r.OrderItems))
	for _, item := range r.OrderItems {
		lines = append(lines, domain.LineRequest{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  *item.Quantity,
		})
	}
	return lifecycle.CreateOrderRequest{
		CustomerName:  strings.TrimSpace(r.CustomerName),
		CustomerEmail: strings.TrimSpace(r.CustomerEmail),
		Lines:         lines,
	}
}

// validEmail принимает только голый адрес, без отображаемого имени.
func validEmail(raw string) bool {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return false
	}
	return addr.Address == raw && strings.Contains(raw[strings.LastIndex(raw, "@"):], ".")
}
