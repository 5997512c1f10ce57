// Package retry re-runs workflow mutations that failed on a consistency error.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/procflow/pkg/persistence"
)

// Policy bounds the retries of one operation.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries a lock timeout or stale read up to three times.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = p.InitialInterval
	exponential.MaxInterval = p.MaxInterval
	exponential.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exponential, p.MaxRetries), ctx)
}

// Do runs fn, retrying only persistence consistency errors. Any other error
// is returned immediately; the last consistency error is returned once the
// policy is exhausted.
func Do(ctx context.Context, policy Policy, logger *slog.Logger, op string, fn func() error) error {
	attempt := 0

	return backoff.RetryNotify(func() error {
		attempt++

		err := fn()
		if err == nil {
			return nil
		}

		if !persistence.IsConsistencyError(err) {
			return backoff.Permanent(err)
		}

		return err
	}, policy.backOff(ctx), func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Retrying after consistency error",
			"operation", op,
			"attempt", attempt,
			"wait", wait,
			"error", err)
	})
}
