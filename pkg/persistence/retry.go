package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sanonone/gatekv/pkg/metrics"
)

// ErrPersistenceFailure is returned once a load or save has failed on every
// attempt allowed by the RetryPolicy. The last underlying error is wrapped too.
var ErrPersistenceFailure = errors.New("persistence failure")

// RetryPolicy bounds how hard the store tries to reach the backing file before
// giving up. Delays grow exponentially from InitialInterval up to MaxInterval.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// DefaultRetryPolicy returns 5 attempts starting at 10ms, doubling, capped at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Multiplier:      2,
	}
}

// Validate reports a configuration that could never succeed or never stop.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialInterval < 0 || p.MaxInterval < 0 {
		return fmt.Errorf("retry intervals must not be negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %g", p.Multiplier)
	}
	return nil
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0.1
	eb.MaxElapsedTime = 0 // bounded by attempts, not wall time
	eb.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, the attempts are exhausted or ctx is done.
// op and path only label logs, metrics and the returned error.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op, path string, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := 0
	var lastErr error

	err := backoff.RetryNotify(func() error {
		attempts++
		if err := fn(); err != nil {
			lastErr = err
			metrics.PersistenceAttempts.WithLabelValues(op, "error").Inc()
			return err
		}
		metrics.PersistenceAttempts.WithLabelValues(op, "ok").Inc()
		return nil
	}, p.backOff(ctx), func(err error, next time.Duration) {
		logger.Warn("Persistence attempt failed, retrying",
			"op", op,
			"path", path,
			"attempt", attempts,
			"retry_in", next,
			"error", err,
		)
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, path, ctxErr)
	}

	logger.Error("Persistence failed, giving up",
		"op", op,
		"path", path,
		"attempts", attempts,
		"error", lastErr,
	)
	return fmt.Errorf("%w: %s %s after %d attempts: %w", ErrPersistenceFailure, op, path, attempts, lastErr)
}
