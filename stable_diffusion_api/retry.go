package stable_diffusion_api

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultRetryInterval = 4 * time.Second
	defaultAttempts      = 3
)

type retryPolicy struct {
	interval time.Duration
	attempts int
}

func newRetryPolicy(interval time.Duration, attempts int) retryPolicy {
	if interval <= 0 {
		interval = defaultRetryInterval
	}

	if attempts <= 0 {
		attempts = defaultAttempts
	}

	return retryPolicy{interval: interval, attempts: attempts}
}

// newBackOff waits a random 3-5s (for the default interval) between attempts.
func (p retryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.interval
	b.RandomizationFactor = 0.25
	b.Multiplier = 1
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts-1)), ctx)
}

// do runs operation until it succeeds or the attempts run out. Invalid
// parameters and unsupported operations are returned after the first attempt.
// The last error is returned as is.
func (p retryPolicy) do(ctx context.Context, logger *zap.Logger, name string, operation func() error) error {
	return backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		switch KindOf(err) {
		case KindInvalidParameter, KindUnsupportedOperation:
			return backoff.Permanent(err)
		}

		logger.Warn("Backend call attempt failed", zap.String("call", name), zap.Error(err))

		return err
	}, p.newBackOff(ctx))
}
