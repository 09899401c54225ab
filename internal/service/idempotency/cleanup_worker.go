// Package idempotency чистит просроченные ключи Idempotency-Key HTTP API.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// defaultMaxBatches ограничивает один проход, остаток уйдёт в следующий тик.
	defaultMaxBatches = 100
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт число ключей, удаляемых одним запросом.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxBatches ограничивает число запросов удаления за один проход.
func WithMaxBatches(n int) CleanupOption {
	return func(w *CleanupWorker) {
		if n > 0 {
			w.maxBatches = n
		}
	}
}

func WithMetrics(m *metrics.WorkerMetrics) CleanupOption {
	return func(w *CleanupWorker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// SweepResult — итог одного прохода очистки.
type SweepResult struct {
	Deleted int
	Batches int
	// Truncated означает, что проход упёрся в maxBatches.
	Truncated bool
}

// CleanupWorker периодически удаляет ключи, чей ttl истёк.
// Ключ в статусе processing тоже удаляется по ttl, чтобы зависший запрос не блокировал повтор навсегда.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	metrics    *metrics.WorkerMetrics
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-cleanup-worker"),
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultMaxBatches,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.NewWorkerMetrics()
	}
	return w
}

// Run чистит ключи сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	res, err := w.Sweep(ctx, w.now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.RecordCleanupRun(metrics.ResultError, res.Deleted)
		w.logger.WithError(err).WithField("deleted", res.Deleted).Warn("idempotency cleanup run failed")
		return
	}

	w.metrics.RecordCleanupRun(metrics.ResultOK, res.Deleted)
	if res.Deleted > 0 {
		w.logger.WithFields(log.Fields{
			"deleted":   res.Deleted,
			"batches":   res.Batches,
			"truncated": res.Truncated,
		}).Info("idempotency cleanup completed")
	}
}

// Sweep удаляет ключи с ttl <= before порциями по batchSize.
// Нулевой before означает текущее время.
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (SweepResult, error) {
	if before.IsZero() {
		before = w.now()
	}

	var res SweepResult
	for res.Batches < w.maxBatches {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return res, err
		}
		res.Batches++
		res.Deleted += deleted

		if deleted < w.batchSize {
			return res, nil
		}
	}
	res.Truncated = true
	return res, nil
}
