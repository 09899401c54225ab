package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

type journalKey struct{}

// journal накапливает компенсации и хуки фиксации одной единицы работы.
type journal struct {
	undo     []func()
	onCommit []func()
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
}

func (j *journal) commit() {
	for _, fn := range j.onCommit {
		fn()
	}
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

// recordUndo регистрирует компенсацию, если вызов идёт внутри транзакции.
func recordUndo(ctx context.Context, fn func()) {
	if j := journalFrom(ctx); j != nil {
		j.undo = append(j.undo, fn)
	}
}

// recordCommit выполняет fn при фиксации транзакции или сразу, если транзакции нет.
func recordCommit(ctx context.Context, fn func()) {
	if j := journalFrom(ctx); j != nil {
		j.onCommit = append(j.onCommit, fn)
		return
	}
	fn()
}

// transactor сериализует единицы работы и откатывает их по журналу компенсаций.
type transactor struct {
	mu sync.Mutex
}

// NewTransactor создаёт in-memory Transactor.
func NewTransactor() domain.Transactor {
	return &transactor{}
}

func (t *transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if journalFrom(ctx) != nil {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	j := &journal{}
	txCtx := context.WithValue(ctx, journalKey{}, j)

	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
	}()

	if err = fn(txCtx); err != nil {
		j.rollback()
		return err
	}
	j.commit()
	return nil
}

var _ domain.Transactor = (*transactor)(nil)
