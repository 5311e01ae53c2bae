// Package retry runs an operation again when it fails with a transient error,
// waiting with exponential backoff and jitter between bounded attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts     int // total attempts including the first; <= 0 means 1
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy returns the policy used for ledger conflicts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Multiplier:      2,
	}
}

// NotifyFunc is called before sleeping between attempts.
type NotifyFunc func(attempt int, err error, delay time.Duration)

// Do calls fn until it succeeds, returns an error that retryable rejects,
// attempts are exhausted, or ctx is done. It returns the number of attempts made
// and the last error.
func Do(ctx context.Context, p Policy, retryable func(error) bool, notify NotifyFunc, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)

	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, delay time.Duration) {
			notify(attempts, err, delay)
		}
	}

	err := backoff.RetryNotify(op, b, onRetry)
	return attempts, err
}
