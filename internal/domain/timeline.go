package domain

import (
	"strings"
	"time"
)

// Типы записей журнала заказа. Они же event_type в outbox.
const (
	TimelineOrderCreated       = "OrderCreated"
	TimelineOrderStatusChanged = "OrderStatusChanged"
	TimelineOrderCanceled      = "OrderCanceled"
)

// TimelineEvent — запись журнала заказа.
// FromStatus пуст у OrderCreated.
type TimelineEvent struct {
	OrderID    string
	Type       string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Reason     string
	Occurred   time.Time
}

// NewTimelineEvent фиксирует переход заказа из previous в текущий статус.
func NewTimelineEvent(kind string, order Order, previous OrderStatus, reason string) TimelineEvent {
	return TimelineEvent{
		OrderID:    order.ID,
		Type:       kind,
		FromStatus: previous,
		ToStatus:   order.Status,
		Reason:     reason,
		Occurred:   order.UpdatedAt,
	}
}

// Validate проверяет обязательные поля записи.
func (e TimelineEvent) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" || strings.TrimSpace(e.Type) == "" {
		return ErrTimelineEventInvalid
	}
	return nil
}
