package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// Envelope — формат сообщения outbox в Kafka.
// Тот же конверт лежит в DLQ, поэтому его можно переиграть без преобразований.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает сообщение outbox.
func NewEnvelope(event domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   publishedAt,
	}
}

// Key возвращает ключ партиционирования: заказ, иначе id сообщения.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// OutboxTopicPublisher публикует outbox-сообщения в заданный topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер transactional outbox; пустой topic означает oms.order.events.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: utcNow}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	envelope := NewEnvelope(event, p.now())
	return p.producer.publish(p.topic, envelope.Key(), envelope, nil)
}

// DeadLetterPublisher кладёт в DLQ исходный конверт и причину отказа в заголовках.
type DeadLetterPublisher struct {
	producer      *Producer
	originalTopic string
	now           func() time.Time
}

// NewDLQPublisher создаёт паблишер DLQ; originalTopic уходит в x-original-topic.
func NewDLQPublisher(producer *Producer, originalTopic string) *DeadLetterPublisher {
	if originalTopic == "" {
		originalTopic = TopicOrderEvents
	}
	return &DeadLetterPublisher{producer: producer, originalTopic: originalTopic, now: utcNow}
}

func (p *DeadLetterPublisher) PublishDeadLetter(event domain.OutboxMessage, cause error) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	failedAt := p.now()
	headers := map[string]string{
		HeaderOriginalTopic: p.originalTopic,
		HeaderEventType:     event.EventType,
		HeaderFailedAt:      failedAt.Format(time.RFC3339Nano),
	}
	if cause != nil {
		headers[HeaderPublishError] = cause.Error()
	}

	envelope := NewEnvelope(event, failedAt)
	return p.producer.publish(TopicDeadLetterQueue, envelope.Key(), envelope, headers)
}

func utcNow() time.Time { return time.Now().UTC() }

var (
	_ domain.OutboxPublisher     = (*OutboxTopicPublisher)(nil)
	_ domain.DeadLetterPublisher = (*DeadLetterPublisher)(nil)
)
