package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWithRetry(t *testing.T) {
	opts := RetryOptions{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, BackoffMultiplier: 2}

	t.Run("retries retryable errors", func(t *testing.T) {
		calls := 0
		got, err := withRetry(context.Background(), opts, zap.NewNop(), func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, &ErrTimeout{Msg: "slow", Err: context.DeadlineExceeded}
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		_, err := withRetry(context.Background(), opts, zap.NewNop(), func(ctx context.Context) (int, error) {
			calls++
			return 0, &ErrInvalidInput{Msg: "bad"}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		_, err := withRetry(context.Background(), opts, zap.NewNop(), func(ctx context.Context) (int, error) {
			calls++
			return 0, &ErrGeneration{Msg: "busy", Transient: true}
		})
		var genErr *ErrGeneration
		require.ErrorAs(t, err, &genErr)
		assert.Equal(t, 3, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := withRetry(ctx, opts, zap.NewNop(), func(ctx context.Context) (int, error) {
			return 1, nil
		})
		var cancelled *ErrCancelled
		assert.ErrorAs(t, err, &cancelled)
	})
}

func TestBackoffIsCapped(t *testing.T) {
	opts := RetryOptions{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffMultiplier: 2}
	assert.Equal(t, 100*time.Millisecond, opts.backoff(0))
	assert.Equal(t, 200*time.Millisecond, opts.backoff(1))
	assert.Equal(t, 300*time.Millisecond, opts.backoff(2))
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("root")
	for _, err := range []error{
		&ErrDatabaseConnection{Msg: "m", Err: cause},
		&ErrQueryExecution{Msg: "m", Err: cause},
		&ErrInvalidInput{Msg: "m", Err: cause},
		&ErrTimeout{Msg: "m", Err: cause},
		&ErrCancelled{Msg: "m", Err: cause},
		&ErrGeneration{Msg: "m", Err: cause},
	} {
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "m: root")
	}
}
