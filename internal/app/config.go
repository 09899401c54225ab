package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	ServiceName string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	// брокеры через запятую, пустая строка отключает Kafka
	KafkaBrokers        string
	KafkaOrderTopic     string
	KafkaLifecycleTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	RedisAddr string
	CacheTTL  time.Duration

	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64

	ConsulAddr string

	StockRetryAttempts int
	ShutdownTimeout    time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		ServiceName: "order-service",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,

		KafkaOrderTopic:     kafka.TopicOrderEvents,
		KafkaLifecycleTopic: kafka.TopicOrderLifecycle,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		CacheTTL: 10 * time.Minute,

		OTelInsecure:    true,
		OTelSampleRatio: 1,

		StockRetryAttempts: 5,
		ShutdownTimeout:    5 * time.Second,
	}
}

// LoadConfigFromEnv накладывает переменные окружения OMS_* на DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	env := envReader{lookup: os.LookupEnv}

	env.str("OMS_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("OMS_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("OMS_METRICS_ADDR", &cfg.MetricsAddr)
	env.str("OMS_SERVICE_NAME", &cfg.ServiceName)

	env.str("OMS_STORAGE_DRIVER", &cfg.StorageDriver)
	env.str("OMS_POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("OMS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	env.integer("OMS_POSTGRES_MAX_CONNS", &cfg.PostgresMaxConns)

	env.str("KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.str("OMS_KAFKA_ORDER_TOPIC", &cfg.KafkaOrderTopic)
	env.str("OMS_KAFKA_LIFECYCLE_TOPIC", &cfg.KafkaLifecycleTopic)

	env.duration("OMS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.integer("OMS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.integer("OMS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("OMS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	env.duration("OMS_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	env.duration("OMS_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	env.integer("OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	env.str("OMS_REDIS_ADDR", &cfg.RedisAddr)
	env.duration("OMS_CACHE_TTL", &cfg.CacheTTL)

	env.str("OMS_OTEL_ENDPOINT", &cfg.OTelEndpoint)
	env.boolean("OMS_OTEL_INSECURE", &cfg.OTelInsecure)
	env.float("OMS_OTEL_SAMPLE_RATIO", &cfg.OTelSampleRatio)

	env.str("OMS_CONSUL_ADDR", &cfg.ConsulAddr)

	env.integer("OMS_STOCK_RETRY_ATTEMPTS", &cfg.StockRetryAttempts)
	env.duration("OMS_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек до старта зависимостей.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("OMS_POSTGRES_DSN is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.StockRetryAttempts < 1 {
		errs = append(errs, errors.New("stock retry attempts must be at least 1"))
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		errs = append(errs, errors.New("otel sample ratio must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

// Brokers разбирает KafkaBrokers, отбрасывая пустые элементы.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) value(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.value(key); ok {
		*dst = v
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) float(key string, dst *float64) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}
