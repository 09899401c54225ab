package domain

import (
	"strings"
	"time"
)

// OutboxStatus — состояние сообщения в transactional outbox.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	// OutboxFailed: попытки исчерпаны, сообщение ушло в DLQ.
	OutboxFailed OutboxStatus = "failed"
)

// DefaultOutboxPullLimit используется, когда PullPending получает limit <= 0.
const DefaultOutboxPullLimit = 100

// OutboxMessage — событие, записанное в одной транзакции с изменением заказа.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Validate проверяет сообщение перед записью.
func (m OutboxMessage) Validate() error {
	if strings.TrimSpace(m.EventType) == "" {
		return ErrOutboxEventTypeRequired
	}
	return nil
}

// OutboxStats — размер backlog и время самого старого pending-сообщения.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// PullLimit нормализует размер пачки PullPending.
func PullLimit(limit int) int {
	if limit <= 0 {
		return DefaultOutboxPullLimit
	}
	return limit
}
