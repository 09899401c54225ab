package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// timelineEntry повторяет строку timeline_events: seq играет роль BIGSERIAL id.
type timelineEntry struct {
	seq   uint64
	event domain.TimelineEvent
}

type timelineJournal struct {
	mu      sync.RWMutex
	lastSeq uint64
	byOrder map[string][]timelineEntry
}

// NewTimelineRepository хранит журналы заказов в памяти.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineJournal{byOrder: make(map[string][]timelineEntry)}
}

// Append добавляет запись; откат транзакции её убирает.
func (j *timelineJournal) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	j.mu.Lock()
	j.lastSeq++
	entry := timelineEntry{seq: j.lastSeq, event: event}
	j.byOrder[event.OrderID] = append(j.byOrder[event.OrderID], entry)
	j.mu.Unlock()

	recordUndo(ctx, func() { j.remove(event.OrderID, entry.seq) })
	return nil
}

// List отдаёт журнал по occurred, равные occurred идут в порядке записи.
func (j *timelineJournal) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	j.mu.RLock()
	entries := append([]timelineEntry(nil), j.byOrder[orderID]...)
	j.mu.RUnlock()

	sort.Slice(entries, func(a, b int) bool {
		ea, eb := entries[a].event.Occurred, entries[b].event.Occurred
		if !ea.Equal(eb) {
			return ea.Before(eb)
		}
		return entries[a].seq < entries[b].seq
	})

	events := make([]domain.TimelineEvent, len(entries))
	for i, e := range entries {
		events[i] = e.event
	}
	return events, nil
}

func (j *timelineJournal) remove(orderID string, seq uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.byOrder[orderID]
	for i := range entries {
		if entries[i].seq == seq {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(j.byOrder, orderID)
		return
	}
	j.byOrder[orderID] = entries
}

var _ domain.TimelineRepository = (*timelineJournal)(nil)
