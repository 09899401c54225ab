package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderCanceled      EventType = "order.canceled"
)

// Topics для Kafka
const (
	// TopicOrderEvents получает конверты из transactional outbox.
	TopicOrderEvents = "oms.order.events"
	// TopicOrderLifecycle получает события, которые движок публикует сразу после commit.
	TopicOrderLifecycle  = "oms.order.lifecycle"
	TopicDeadLetterQueue = "oms.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для сообщений в DLQ
const (
	HeaderOriginalTopic = "x-original-topic"
	HeaderEventType     = "x-event-type"
	HeaderFailedAt      = "x-failed-at"
	HeaderPublishError  = "x-publish-error"
	HeaderReplayedAt    = "x-replayed-at"
)

// OrderLineEvent — позиция заказа в событии.
type OrderLineEvent struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType      EventType        `json:"event_type"`
	OrderID        string           `json:"order_id"`
	CustomerEmail  string           `json:"customer_email"`
	Status         string           `json:"status"`
	PreviousStatus string           `json:"previous_status,omitempty"`
	TotalAmount    string           `json:"total_amount"`
	Version        int64            `json:"version"`
	Lines          []OrderLineEvent `json:"lines"`
	Timestamp      time.Time        `json:"timestamp"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
}

// NewOrderEvent собирает событие из снимка заказа.
// previous пустой для order.created.
func NewOrderEvent(eventType EventType, order domain.Order, previous domain.OrderStatus) *OrderEvent {
	lines := make([]OrderLineEvent, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLineEvent{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
			LineTotal: line.LineTotal.StringFixed(2),
		})
	}

	return &OrderEvent{
		EventType:      eventType,
		OrderID:        order.ID,
		CustomerEmail:  order.CustomerEmail,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		TotalAmount:    order.TotalAmount.StringFixed(2),
		Version:        order.Version,
		Lines:          lines,
		Timestamp:      time.Now().UTC(),
	}
}

// EventTypeForTimeline сопоставляет тип события аудита с типом Kafka-события.
func EventTypeForTimeline(timelineType string) (EventType, bool) {
	switch timelineType {
	case domain.TimelineOrderCreated:
		return EventTypeOrderCreated, true
	case domain.TimelineOrderStatusChanged:
		return EventTypeOrderStatusChanged, true
	case domain.TimelineOrderCanceled:
		return EventTypeOrderCanceled, true
	default:
		return "", false
	}
}
