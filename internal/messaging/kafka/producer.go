package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// DefaultClientID попадает в логи брокера и квоты Kafka.
const DefaultClientID = "ordersvc"

var errProducerClosed = errors.New("kafka producer is closed")

// ProducerOption правит sarama.Config до создания producer.
type ProducerOption func(*sarama.Config)

func WithClientID(id string) ProducerOption {
	return func(c *sarama.Config) {
		if id != "" {
			c.ClientID = id
		}
	}
}

func WithRetryMax(n int) ProducerOption {
	return func(c *sarama.Config) {
		if n >= 0 {
			c.Producer.Retry.Max = n
		}
	}
}

func WithCompression(codec sarama.CompressionCodec) ProducerOption {
	return func(c *sarama.Config) { c.Producer.Compression = codec }
}

// NewProducerConfig собирает конфигурацию идемпотентного синхронного producer:
// acks=all и одна in-flight заявка на соединение сохраняют порядок по ключу.
func NewProducerConfig(opts ...ProducerOption) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = DefaultClientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Producer сериализует события в JSON и синхронно отправляет их в Kafka.
type Producer struct {
	client sarama.SyncProducer
	logger *log.Entry
	closed atomic.Bool
}

// NewProducer подключается к brokers.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	client, err := sarama.NewSyncProducer(brokers, NewProducerConfig(opts...))
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return NewProducerFromClient(client), nil
}

// NewProducerFromClient оборачивает готовый sarama.SyncProducer, например mocks.SyncProducer.
func NewProducerFromClient(client sarama.SyncProducer) *Producer {
	return &Producer{client: client, logger: log.WithField("component", "kafka-producer")}
}

func (p *Producer) publish(topic, key string, event any, headers map[string]string) error {
	if p.closed.Load() {
		return errProducerClosed
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event for %s: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now().UTC(),
	}
	for name, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(v)})
	}

	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	partition, offset, err := p.client.SendMessage(msg)
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message sent")
	return nil
}

// Ping сообщает о готовности producer. Состояние брокеров здесь не проверяется.
func (p *Producer) Ping(context.Context) error {
	switch {
	case p == nil || p.client == nil:
		return errors.New("kafka producer is not initialized")
	case p.closed.Load():
		return errProducerClosed
	}
	return nil
}

// Close закрывает producer; повторный вызов ничего не делает.
func (p *Producer) Close() error {
	if p == nil || p.client == nil || !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
