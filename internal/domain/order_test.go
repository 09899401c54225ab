package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:            "order-1",
		CustomerName:  "Jane Doe",
		CustomerEmail: "jane@example.com",
		Status:        domain.OrderStatusPending,
		TotalAmount:   decimal.RequireFromString("50.00"),
		Lines: []domain.OrderLine{
			{
				ProductID: "product-1",
				Quantity:  5,
				UnitPrice: decimal.RequireFromString("10.00"),
				LineTotal: decimal.RequireFromString("50.00"),
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no lines",
			mut: func(o *domain.Order) {
				o.Lines = nil
				o.TotalAmount = decimal.Zero
			},
			want: domain.ErrLinesRequired,
		},
		{
			name: "quantity invalid",
			mut: func(o *domain.Order) {
				o.Lines[0].Quantity = 0
			},
			want: domain.ErrLineQuantityInvalid,
		},
		{
			name: "price below minimum",
			mut: func(o *domain.Order) {
				o.Lines[0].UnitPrice = decimal.RequireFromString("0.001")
			},
			want: domain.ErrLinePriceInvalid,
		},
		{
			name: "line total mismatch",
			mut: func(o *domain.Order) {
				o.Lines[0].LineTotal = decimal.RequireFromString("49.99")
				o.TotalAmount = decimal.RequireFromString("49.99")
			},
			want: domain.ErrLineTotalMismatch,
		},
		{
			name: "amount mismatch",
			mut: func(o *domain.Order) {
				o.TotalAmount = decimal.RequireFromString("51.00")
			},
			want: domain.ErrAmountMismatch,
		},
		{
			name: "duplicate product",
			mut: func(o *domain.Order) {
				o.Lines = append(o.Lines, o.Lines[0])
				o.TotalAmount = decimal.RequireFromString("100.00")
			},
			want: domain.ErrDuplicateProductInOrder,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatalf("expected validation errors")
			}
			found := false
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	cases := []struct {
		raw     string
		want    domain.OrderStatus
		wantErr bool
	}{
		{raw: "PENDING", want: domain.OrderStatusPending},
		{raw: "confirmed", want: domain.OrderStatusConfirmed},
		{raw: " Shipped ", want: domain.OrderStatusShipped},
		{raw: "delivered", want: domain.OrderStatusDelivered},
		{raw: "Cancelled", want: domain.OrderStatusCancelled},
		{raw: "canceled", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := domain.ParseOrderStatus(tc.raw)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidStatus) {
					t.Fatalf("expected ErrInvalidStatus, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	for _, status := range domain.OrderStatuses {
		want := status == domain.OrderStatusCancelled || status == domain.OrderStatusDelivered
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s terminal=%v, want %v", status, got, want)
		}
	}
}

func TestOrderClone_IndependentLines(t *testing.T) {
	order := makeOrder()
	clone := order.Clone()
	clone.Lines[0].Quantity = 99

	if order.Lines[0].Quantity != 5 {
		t.Fatalf("clone mutated original lines: %+v", order.Lines[0])
	}
	if ids := order.ProductIDs(); len(ids) != 1 || ids[0] != "product-1" {
		t.Fatalf("unexpected product ids: %v", ids)
	}
}

func TestProductValidateInvariants(t *testing.T) {
	p := domain.Product{ID: "p", Price: decimal.RequireFromString("0.01"), Stock: 0}
	if errs := p.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected valid product, got %v", errs)
	}

	p.Price = decimal.Zero
	p.Stock = -1
	errs := p.ValidateInvariants()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}
