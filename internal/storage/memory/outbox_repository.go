package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// outboxStaged: сообщение записано в открытой транзакции и ещё не видно воркеру.
const outboxStaged domain.OutboxStatus = "staged"

type outboxRow struct {
	msg       domain.OutboxMessage
	seq       uint64
	status    domain.OutboxStatus
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// outboxTable — in-memory аналог outbox_messages.
type outboxTable struct {
	mu   sync.RWMutex
	seq  uint64
	rows map[string]*outboxRow
	now  func() time.Time
}

// NewOutboxRepository хранит outbox в памяти. Внутри WithinTx сообщение становится pending только после commit.
func NewOutboxRepository() domain.OutboxRepository {
	return &outboxTable{
		rows: make(map[string]*outboxRow),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (t *outboxTable) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := msg.Validate(); err != nil {
		return domain.OutboxMessage{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	t.mu.Lock()
	t.seq++
	now := t.now()
	t.rows[msg.ID] = &outboxRow{msg: msg, seq: t.seq, status: outboxStaged, createdAt: now, updatedAt: now}
	t.mu.Unlock()

	id := msg.ID
	recordUndo(ctx, func() {
		t.mu.Lock()
		delete(t.rows, id)
		t.mu.Unlock()
	})
	recordCommit(ctx, func() {
		t.mu.Lock()
		if row, ok := t.rows[id]; ok && row.status == outboxStaged {
			row.status = domain.OutboxPending
		}
		t.mu.Unlock()
	})
	return msg, nil
}

// PullPending отдаёт самые старые pending-сообщения в порядке записи.
func (t *outboxTable) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	rows := t.pending()
	if n := domain.PullLimit(limit); len(rows) > n {
		rows = rows[:n]
	}

	out := make([]domain.OutboxMessage, len(rows))
	for i, row := range rows {
		out[i] = row.msg
	}
	return out, nil
}

func (t *outboxTable) Stats(_ context.Context) (domain.OutboxStats, error) {
	rows := t.pending()
	stats := domain.OutboxStats{PendingCount: len(rows)}
	if len(rows) > 0 {
		stats.OldestPendingAt = rows[0].createdAt
	}
	return stats, nil
}

func (t *outboxTable) MarkSent(_ context.Context, id string) error {
	return t.mark(id, domain.OutboxSent)
}

func (t *outboxTable) MarkFailed(_ context.Context, id string) error {
	return t.mark(id, domain.OutboxFailed)
}

// pending возвращает снимок pending-строк, упорядоченный по seq.
func (t *outboxTable) pending() []outboxRow {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := make([]outboxRow, 0, len(t.rows))
	for _, row := range t.rows {
		if row.status == domain.OutboxPending {
			rows = append(rows, *row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return rows
}

func (t *outboxTable) mark(id string, status domain.OutboxStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	row.status = status
	row.attempts++
	row.updatedAt = t.now()
	return nil
}

var _ domain.OutboxRepository = (*outboxTable)(nil)
