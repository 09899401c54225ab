package memory_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
)

func outboxMsg(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   "order-" + id,
		EventType:     domain.TimelineOrderStatusChanged,
		Payload:       []byte(`{"status":"CONFIRMED"}`),
	}
}

func TestOutboxRepository_Enqueue(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()

	if _, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateID: "order-1"}); !errors.Is(err, domain.ErrOutboxEventTypeRequired) {
		t.Fatalf("expected ErrOutboxEventTypeRequired, got %v", err)
	}

	saved, err := repo.Enqueue(ctx, outboxMsg(""))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("id must be generated")
	}

	stats, _ := repo.Stats(ctx)
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestOutboxRepository_PullPending(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	for i := 0; i < domain.DefaultOutboxPullLimit+5; i++ {
		if _, err := repo.Enqueue(ctx, outboxMsg(fmt.Sprintf("m-%03d", i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "explicit limit", limit: 2, want: 2},
		{name: "zero falls back to default", limit: 0, want: domain.DefaultOutboxPullLimit},
		{name: "limit above backlog", limit: 1000, want: domain.DefaultOutboxPullLimit + 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.PullPending(ctx, tc.limit)
			if err != nil {
				t.Fatalf("pull: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("got %d messages, want %d", len(got), tc.want)
			}
			if got[0].ID != "m-000" || got[1].ID != "m-001" {
				t.Fatalf("messages must come in enqueue order, got %s, %s", got[0].ID, got[1].ID)
			}
		})
	}
}

func TestOutboxRepository_MarkLeavesBacklog(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := repo.Enqueue(ctx, outboxMsg(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	if err := repo.MarkSent(ctx, "a"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, "b"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkSent(ctx, "missing"); !errors.Is(err, domain.ErrOutboxMessageNotFound) {
		t.Fatalf("expected ErrOutboxMessageNotFound, got %v", err)
	}

	pending, _ := repo.PullPending(ctx, 10)
	if len(pending) != 1 || pending[0].ID != "c" {
		t.Fatalf("only c must stay pending, got %+v", pending)
	}
}
