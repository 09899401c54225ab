package kafka

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// OrderEventPublisher публикует события жизненного цикла заказа сразу после commit.
type OrderEventPublisher struct {
	producer *Producer
	topic    string
}

// NewOrderEventPublisher: пустой topic означает oms.order.lifecycle.
func NewOrderEventPublisher(producer *Producer, topic string) *OrderEventPublisher {
	if topic == "" {
		topic = TopicOrderLifecycle
	}
	return &OrderEventPublisher{producer: producer, topic: topic}
}

// PublishOrderEvent отправляет событие с ключом order_id, так события одного заказа попадают в одну партицию.
// W3C trace context из ctx уходит в заголовки.
func (p *OrderEventPublisher) PublishOrderEvent(ctx context.Context, event *OrderEvent) error {
	switch {
	case p == nil || p.producer == nil:
		return errors.New("kafka order event publisher is not initialized")
	case event == nil:
		return errors.New("order event is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	headers := propagation.MapCarrier{HeaderEventType: string(event.EventType)}
	otel.GetTextMapPropagator().Inject(ctx, headers)
	return p.producer.publish(p.topic, event.OrderID, event, headers)
}
