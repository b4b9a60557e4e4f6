package coreerrors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDimensionMismatchShape(t *testing.T) {
	err := DimensionMismatch(768, 384)
	assert.Equal(t, CodeDimensionMismatch, Code(err))
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "768")
}

func TestGitBackendErrorRetryable(t *testing.T) {
	err := New(CodeGitBackendError, "wedged", nil)
	assert.True(t, IsRetryable(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(CodeCorruptVectorFile, cause)
	require.NotNil(t, wrapped)
	assert.ErrorIs(t, wrapped, cause)
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetrySchedule(t *testing.T) {
	attempts := 0
	err := RetrySchedule(context.Background(), []time.Duration{0, 0, 0}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}
