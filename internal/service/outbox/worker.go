package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/retry"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDeadLetter задаёт получателя событий, исчерпавших попытки публикации.
func WithDeadLetter(dlq domain.DeadLetterPublisher) Option {
	return func(w *Worker) { w.deadLetter = dlq }
}

func WithMetrics(m *metrics.WorkerMetrics) Option {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.retry.MaxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу экспоненциального backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay < 0 {
			delay = 0
		}
		w.retry.InitialDelay = delay
	}
}

// WithClock подменяет часы для расчёта возраста backlog.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// BatchResult — итог одного прохода по outbox.
type BatchResult struct {
	Sent         int
	Failed       int
	DeadLettered int
}

// Worker переносит события заказов из outbox в брокер.
// Событие, не ушедшее за отведённые попытки, помечается failed и отправляется в DLQ.
// Прерванная отменой ctx публикация оставляет событие pending.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	deadLetter   domain.DeadLetterPublisher
	metrics      *metrics.WorkerMetrics
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	retry        retry.Config
	now          func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-worker"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		retry: retry.Config{
			MaxAttempts:   defaultMaxAttempts,
			InitialDelay:  defaultRetryBaseDelay,
			MaxDelay:      maxRetryDelay,
			BackoffFactor: 2,
		},
		now: time.Now,
	}
	for _, option := range options {
		option(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.NewWorkerMetrics()
	}
	return w
}

// Run опрашивает outbox с интервалом pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if res := w.ProcessOnce(ctx); res.Sent+res.Failed > 0 {
			w.logger.WithFields(log.Fields{
				"sent":          res.Sent,
				"failed":        res.Failed,
				"dead_lettered": res.DeadLettered,
			}).Debug("outbox batch processed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну порцию pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var res BatchResult
	if ctx.Err() != nil {
		return res
	}
	defer w.refreshBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return res
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return res
		}

		entry := w.logger.WithFields(log.Fields{"outbox_id": event.ID, "event_type": event.EventType})
		err := w.publish(ctx, event, entry)
		if err == nil {
			res.Sent++
			if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
				entry.WithError(markErr).Warn("failed to mark outbox as sent")
			}
			continue
		}
		if ctx.Err() != nil {
			return res
		}

		res.Failed++
		w.metrics.RecordOutboxAttempt(metrics.OutboxFailed)
		entry.WithError(err).Error("outbox publish failed after retries")

		if w.sendToDeadLetter(event, err, entry) {
			res.DeadLettered++
		}
		if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox as failed")
		}
	}
	return res
}

func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage, entry *log.Entry) error {
	err := retry.Do(ctx, w.retry, func(error) bool { return true }, func(int) error {
		return w.publisher.Publish(event)
	}, func(attempt int, err error) {
		w.metrics.RecordOutboxAttempt(metrics.OutboxRetryError)
		entry.WithError(err).WithField("attempt", attempt).Debug("outbox publish attempt failed")
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("publish failed after %d attempts: %w", w.retry.MaxAttempts, err)
	}

	w.metrics.RecordOutboxAttempt(metrics.OutboxSent)
	return nil
}

func (w *Worker) sendToDeadLetter(event domain.OutboxMessage, cause error, entry *log.Entry) bool {
	if w.deadLetter == nil {
		return false
	}
	if err := w.deadLetter.PublishDeadLetter(event, cause); err != nil {
		w.metrics.RecordOutboxAttempt(metrics.OutboxDLQFailed)
		entry.WithError(err).Warn("failed to publish to DLQ")
		return false
	}
	return true
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}
