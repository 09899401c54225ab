package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/inventory"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/retry"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
)

func seededRepo(t *testing.T, id string, stock int) domain.ProductRepository {
	t.Helper()

	repo := memory.NewProductRepository()
	if err := repo.Create(context.Background(), domain.Product{
		ID:     id,
		Name:   "Widget",
		Price:  decimal.RequireFromString("10.00"),
		Stock:  stock,
		Active: true,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return repo
}

func stockOf(t *testing.T, repo domain.ProductRepository, id string) int {
	t.Helper()

	p, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}

func newLedger(repo domain.ProductRepository) *inventory.Ledger {
	return inventory.NewLedger(repo,
		inventory.WithMetrics(metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())),
		inventory.WithRetryConfig(retry.Config{MaxAttempts: 20, InitialDelay: time.Microsecond, MaxDelay: time.Millisecond, BackoffFactor: 2}),
	)
}

func TestLedger_ReserveExactAndOneMore(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t, "p-1", 10)
	ledger := newLedger(repo)

	if err := ledger.Reserve(ctx, "p-1", 10); err != nil {
		t.Fatalf("reserve exact stock: %v", err)
	}
	if got := stockOf(t, repo, "p-1"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}

	err := ledger.Reserve(ctx, "p-1", 1)
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Available != 0 || insufficient.Requested != 1 || insufficient.ProductID != "p-1" {
		t.Fatalf("unexpected error details: %+v", insufficient)
	}
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatal("InsufficientStockError must match ErrInsufficientStock")
	}
	if got := stockOf(t, repo, "p-1"); got != 0 {
		t.Fatalf("failed reserve must not change stock, got %d", got)
	}
}

func TestLedger_ReserveAndReleaseErrors(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t, "p-1", 3)
	ledger := newLedger(repo)

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{name: "reserve missing product", call: func() error { return ledger.Reserve(ctx, "missing", 1) }, wantErr: domain.ErrProductNotFound},
		{name: "reserve zero quantity", call: func() error { return ledger.Reserve(ctx, "p-1", 0) }, wantErr: domain.ErrLineQuantityInvalid},
		{name: "release zero quantity", call: func() error { return ledger.Release(ctx, "p-1", 0) }, wantErr: domain.ErrLineQuantityInvalid},
		{name: "release missing product", call: func() error { return ledger.Release(ctx, "missing", 2) }, wantErr: domain.ErrInventoryInconsistency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if err := ledger.Release(ctx, "missing", 2); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("inconsistency must also wrap ErrProductNotFound, got %v", err)
	}
	if got := stockOf(t, repo, "p-1"); got != 3 {
		t.Fatalf("stock must be untouched, got %d", got)
	}
}

func TestLedger_ConcurrentReserveRelease(t *testing.T) {
	ctx := context.Background()
	const initial = 100
	repo := seededRepo(t, "p-1", initial)
	ledger := newLedger(repo)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			qty := 1 + i%3
			if err := ledger.Reserve(ctx, "p-1", qty); err != nil {
				if !errors.Is(err, domain.ErrInsufficientStock) && !errors.Is(err, domain.ErrStockConflict) {
					t.Errorf("unexpected reserve error: %v", err)
				}
				return
			}
			mu.Lock()
			reserved += qty
			mu.Unlock()

			if i%4 == 0 {
				if err := ledger.Release(ctx, "p-1", qty); err != nil {
					t.Errorf("unexpected release error: %v", err)
					return
				}
				mu.Lock()
				reserved -= qty
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	got := stockOf(t, repo, "p-1")
	if got < 0 {
		t.Fatalf("stock went negative: %d", got)
	}
	if got != initial-reserved {
		t.Fatalf("expected stock %d, got %d", initial-reserved, got)
	}
}

// flakyRepo возвращает ErrStockConflict заданное число раз.
type flakyRepo struct {
	domain.ProductRepository

	mu        sync.Mutex
	conflicts int
	calls     int
}

func (r *flakyRepo) ConditionalUpdateStock(ctx context.Context, id string, delta, min int) (domain.Product, error) {
	r.mu.Lock()
	r.calls++
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return domain.Product{}, domain.ErrStockConflict
	}
	r.mu.Unlock()
	return r.ProductRepository.ConditionalUpdateStock(ctx, id, delta, min)
}

func TestLedger_RetriesStockConflict(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{ProductRepository: seededRepo(t, "p-1", 5), conflicts: 2}
	ledger := newLedger(repo)

	if err := ledger.Reserve(ctx, "p-1", 2); err != nil {
		t.Fatalf("reserve should succeed after retries: %v", err)
	}
	if repo.calls != 3 {
		t.Fatalf("expected 3 update attempts, got %d", repo.calls)
	}
	if got := stockOf(t, repo, "p-1"); got != 3 {
		t.Fatalf("expected stock 3, got %d", got)
	}
}

func TestLedger_ConflictRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{ProductRepository: seededRepo(t, "p-1", 5), conflicts: 100}
	ledger := inventory.NewLedger(repo, inventory.WithRetryConfig(retry.Config{MaxAttempts: 3}))

	err := ledger.Reserve(ctx, "p-1", 1)
	if !errors.Is(err, domain.ErrStockConflict) {
		t.Fatalf("expected ErrStockConflict, got %v", err)
	}
	if repo.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", repo.calls)
	}
	if got := stockOf(t, repo, "p-1"); got != 5 {
		t.Fatalf("stock must be unchanged, got %d", got)
	}
}
