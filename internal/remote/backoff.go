package remote

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backoff is an exponential retry schedule
type Backoff struct {
	Initial    time.Duration
	Factor     float64
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoff waits 2s, 4s and 8s between four connection attempts
var DefaultBackoff = Backoff{
	Initial:    2 * time.Second,
	Factor:     2.0,
	Max:        16 * time.Second,
	MaxRetries: 3,
}

// Delays returns the wait before each retry
func (b Backoff) Delays() []time.Duration {
	delays := make([]time.Duration, 0, b.MaxRetries)
	backoff := b.Initial
	for i := 0; i < b.MaxRetries; i++ {
		delays = append(delays, backoff)
		backoff = time.Duration(float64(backoff) * b.Factor)
		if b.Max > 0 && backoff > b.Max {
			backoff = b.Max
		}
	}
	return delays
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// schedule is exhausted. It stops early when ctx is done.
func (b Backoff) Retry(ctx context.Context, logger *zap.Logger, host string, retryable func(error) bool, fn func() error) error {
	var err error

	backoff := b.Initial
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Info("retrying connection",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.String("host", host),
				zap.Error(err),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * b.Factor)
			if b.Max > 0 && backoff > b.Max {
				backoff = b.Max
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}

	logger.Warn("max retries reached",
		zap.Int("max_retries", b.MaxRetries),
		zap.String("host", host),
		zap.Error(err),
	)
	return fmt.Errorf("max retries reached: %w", err)
}
