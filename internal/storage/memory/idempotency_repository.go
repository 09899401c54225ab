package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// IdempotencyOption настраивает in-memory хранилище ключей.
type IdempotencyOption func(*idempotencyKeys)

// WithIdempotencyClock подменяет часы, по которым проверяется ttl.
func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(s *idempotencyKeys) {
		if now != nil {
			s.now = now
		}
	}
}

type idempotencyKeys struct {
	mu      sync.RWMutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository хранит ключи в map под RWMutex. Записи выдаются копиями.
func NewIdempotencyRepository(opts ...IdempotencyOption) domain.IdempotencyRepository {
	s := &idempotencyKeys{
		records: make(map[string]domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProcessing занимает ключ. Просроченная запись освобождает его.
func (s *idempotencyKeys) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := s.now()
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.records[record.Key]; ok && !held.Expired(now) {
		return copyRecord(held), held.ConflictErr(record.RequestHash)
	}
	s.records[record.Key] = record
	return record, nil
}

func (s *idempotencyKeys) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (s *idempotencyKeys) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return s.settle(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (s *idempotencyKeys) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return s.settle(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit записей с ttl <= before, начиная с самых старых.
func (s *idempotencyKeys) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range s.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(s.records, record.Key)
	}
	return len(expired), nil
}

func (s *idempotencyKeys) settle(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	s.records[key] = record.Settle(status, body, httpStatus, s.now())
	return nil
}

func copyRecord(r domain.IdempotencyRecord) domain.IdempotencyRecord {
	r.ResponseBody = append([]byte(nil), r.ResponseBody...)
	return r
}

var _ domain.IdempotencyRepository = (*idempotencyKeys)(nil)
