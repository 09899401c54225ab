package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newIdempotencyRepo() (domain.IdempotencyRepository, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return memory.NewIdempotencyRepository(memory.WithIdempotencyClock(clock.now)), clock
}

func TestIdempotencyRepository_CreateProcessing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		seed    string
		advance time.Duration
		hash    string
		wantErr error
	}{
		{name: "fresh key"},
		{name: "same payload while live", seed: "h-1", hash: "h-1", wantErr: domain.ErrIdempotencyKeyAlreadyExists},
		{name: "other payload while live", seed: "h-1", hash: "h-2", wantErr: domain.ErrIdempotencyHashMismatch},
		{name: "expired key is reused", seed: "h-1", advance: 2 * time.Hour, hash: "h-2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, clock := newIdempotencyRepo()
			if tc.seed != "" {
				if _, err := repo.CreateProcessing(ctx, "k", tc.seed, clock.now().Add(time.Hour)); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}
			clock.advance(tc.advance)

			hash := tc.hash
			if hash == "" {
				hash = "h-1"
			}
			record, err := repo.CreateProcessing(ctx, "k", hash, time.Time{})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				if record.RequestHash != tc.seed {
					t.Fatalf("conflict must return the held record, got %+v", record)
				}
				return
			}
			if record.RequestHash != hash || record.Status != domain.IdempotencyStatusProcessing {
				t.Fatalf("unexpected record %+v", record)
			}
			if !record.TTLAt.Equal(clock.now().Add(domain.DefaultIdempotencyTTL)) {
				t.Fatalf("zero ttl must default from the clock, got %s", record.TTLAt)
			}
		})
	}
}

func TestIdempotencyRepository_SettleAndGet(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()

	if _, err := repo.CreateProcessing(ctx, "k", "h", clock.now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateProcessing: %v", err)
	}
	clock.advance(time.Second)

	body := []byte(`{"ok":true}`)
	if err := repo.MarkFailed(ctx, "k", body, 409); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	body[0] = 'X'

	got, err := repo.Get(ctx, " k ")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.IdempotencyStatusFailed || got.HTTPStatus != 409 {
		t.Fatalf("unexpected record %+v", got)
	}
	if string(got.ResponseBody) != `{"ok":true}` {
		t.Fatalf("stored body must not alias caller slice: %s", got.ResponseBody)
	}
	if !got.UpdatedAt.Equal(clock.now()) {
		t.Fatalf("updated_at=%s, want %s", got.UpdatedAt, clock.now())
	}

	if err := repo.MarkDone(ctx, "missing", nil, 200); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.Get(ctx, ""); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected key required, got %v", err)
	}
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()
	start := clock.now()

	for i, key := range []string{"k-3", "k-1", "k-2", "k-live"} {
		ttl := start.Add(time.Duration(i+1) * time.Minute)
		if key == "k-live" {
			ttl = start.Add(time.Hour)
		}
		if _, err := repo.CreateProcessing(ctx, key, "h", ttl); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	removed, err := repo.DeleteExpired(ctx, start.Add(10*time.Minute), 2)
	if err != nil || removed != 2 {
		t.Fatalf("first batch removed=%d err=%v", removed, err)
	}
	if _, err := repo.Get(ctx, "k-2"); err != nil {
		t.Fatalf("latest expired key must survive the first batch: %v", err)
	}

	clock.advance(10 * time.Minute)
	removed, err = repo.DeleteExpired(ctx, time.Time{}, 0)
	if err != nil || removed != 1 {
		t.Fatalf("second batch removed=%d err=%v", removed, err)
	}
	if _, err := repo.Get(ctx, "k-live"); err != nil {
		t.Fatalf("live key must stay: %v", err)
	}
}
