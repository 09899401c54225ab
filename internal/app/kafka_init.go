package app

import (
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/ordersvc/internal/health"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
)

// messaging связывает один producer со всеми Kafka-паблишерами сервиса.
// nil означает, что Kafka отключена: события копятся в outbox.
type messaging struct {
	producer   *kafka.Producer
	lifecycle  *kafka.OrderEventPublisher
	outbox     *kafka.OutboxTopicPublisher
	deadLetter *kafka.DeadLetterPublisher
}

// initMessaging поднимает producer по KAFKA_BROKERS.
// Недоступный брокер не останавливает сервис, ошибка только логируется.
func initMessaging(cfg Config, logger *log.Entry) (*messaging, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		logger.Info("kafka is disabled, outbox events stay pending")
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithFields(log.Fields{
		"brokers":         brokers,
		"outbox_topic":    cfg.KafkaOrderTopic,
		"lifecycle_topic": cfg.KafkaLifecycleTopic,
	}).Info("kafka producer initialized")
	return newMessaging(producer, cfg), nil
}

func newMessaging(producer *kafka.Producer, cfg Config) *messaging {
	return &messaging{
		producer:   producer,
		lifecycle:  kafka.NewOrderEventPublisher(producer, cfg.KafkaLifecycleTopic),
		outbox:     kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic),
		deadLetter: kafka.NewDLQPublisher(producer, cfg.KafkaOrderTopic),
	}
}

// registerHealth добавляет необязательную проверку Kafka.
func (m *messaging) registerHealth(h *healthcheck.Handler) {
	if m == nil {
		return
	}
	h.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", m.producer.Ping))
}

func (m *messaging) close(logger *log.Entry) {
	if m == nil || m.producer == nil {
		return
	}
	if err := m.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
