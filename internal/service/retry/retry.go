// Package retry реализует ограниченный повтор операций с экспоненциальной задержкой.
package retry

import (
	"context"
	"time"
)

// Config конфигурация для retry логики.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию для конфликтов остатков и версий.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	return c
}

// Do вызывает fn, пока она возвращает ошибку, для которой shouldRetry == true,
// и попытки не исчерпаны. Возвращает последнюю ошибку fn либо ошибку ctx.
// OnRetry, если задан, вызывается перед каждой паузой.
func Do(ctx context.Context, cfg Config, shouldRetry func(error) bool, fn func(attempt int) error, onRetry ...func(attempt int, err error)) error {
	cfg = cfg.normalized()
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if shouldRetry == nil || !shouldRetry(lastErr) || attempt == cfg.MaxAttempts {
			return lastErr
		}

		for _, hook := range onRetry {
			hook(attempt, lastErr)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
