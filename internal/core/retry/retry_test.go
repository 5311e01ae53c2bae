package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified []int
	attempts, err := Do(context.Background(), fastPolicy(5), isTransient,
		func(attempt int, err error, delay time.Duration) { notified = append(notified, attempt) },
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("insufficient stock")
	attempts, err := Do(context.Background(), fastPolicy(5), isTransient, nil, func(ctx context.Context) error {
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts, err := Do(context.Background(), fastPolicy(3), isTransient, nil, func(ctx context.Context) error {
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, fastPolicy(5), isTransient, nil, func(ctx context.Context) error {
		return errTransient
	})
	assert.Error(t, err)
}
