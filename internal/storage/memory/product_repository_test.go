package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
)

func newProduct(id, name, category string, stock int) domain.Product {
	now := time.Now().UTC()
	return domain.Product{
		ID:        id,
		Name:      name,
		Price:     decimal.RequireFromString("9.99"),
		Stock:     stock,
		Category:  category,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestProductRepository_ConditionalUpdateStock(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	if err := repo.Create(ctx, newProduct("p-1", "Keyboard", "peripherals", 5)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := repo.ConditionalUpdateStock(ctx, "p-1", -5, 5)
	if err != nil {
		t.Fatalf("reserve exact stock failed: %v", err)
	}
	if updated.Stock != 0 || updated.Version != 1 {
		t.Fatalf("unexpected product after update: stock=%d version=%d", updated.Stock, updated.Version)
	}

	if _, err := repo.ConditionalUpdateStock(ctx, "p-1", -1, 1); !errors.Is(err, domain.ErrStockConflict) {
		t.Fatalf("expected stock conflict, got %v", err)
	}
	if _, err := repo.ConditionalUpdateStock(ctx, "missing", 1, 0); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := repo.ConditionalUpdateStock(ctx, "p-1", 3, 0); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	got, _ := repo.Get(ctx, "p-1")
	if got.Stock != 3 {
		t.Fatalf("expected stock 3, got %d", got.Stock)
	}
}

func TestProductRepository_ConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	if err := repo.Create(ctx, newProduct("p-1", "Mouse", "peripherals", 50)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.ConditionalUpdateStock(ctx, "p-1", -1, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := repo.Get(ctx, "p-1")
	if succeeded != 50 || got.Stock != 0 {
		t.Fatalf("expected 50 successes and stock 0, got successes=%d stock=%d", succeeded, got.Stock)
	}
}

func TestProductRepository_UpdateDeleteSearch(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	for _, p := range []domain.Product{
		newProduct("p-1", "Gaming Mouse", "Peripherals", 1),
		newProduct("p-2", "Office Chair", "Furniture", 1),
		newProduct("p-3", "mouse pad", "peripherals", 1),
	} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if err := repo.Create(ctx, newProduct("p-1", "dup", "", 1)); !errors.Is(err, domain.ErrProductAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	found, err := repo.Search(ctx, "MOUSE", "")
	if err != nil || len(found) != 2 {
		t.Fatalf("expected 2 mice, got %d (%v)", len(found), err)
	}
	found, _ = repo.Search(ctx, "mouse", "periph")
	if len(found) != 2 {
		t.Fatalf("expected 2 peripherals mice, got %d", len(found))
	}
	found, _ = repo.Search(ctx, "", "furn")
	if len(found) != 1 || found[0].ID != "p-2" {
		t.Fatalf("unexpected category search: %+v", found)
	}

	p, _ := repo.Get(ctx, "p-2")
	p.Name = "Desk Chair"
	if err := repo.Update(ctx, p); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := repo.Update(ctx, p); !errors.Is(err, domain.ErrProductVersionConflict) {
		t.Fatalf("expected version conflict on stale update, got %v", err)
	}

	if err := repo.Delete(ctx, "p-2"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "p-2"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if ok, _ := repo.Exists(ctx, "p-2"); ok {
		t.Fatal("deleted product must not exist")
	}

	all, _ := repo.List(ctx)
	if len(all) != 2 || all[0].Name != "Gaming Mouse" {
		t.Fatalf("unexpected list: %+v", all)
	}
}
