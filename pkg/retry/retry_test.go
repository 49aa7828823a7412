package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), NewNoRetry(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	policy := NewFixedDelay(5, time.Millisecond)
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	policy := NewFixedDelay(2, time.Millisecond)
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestExponentialBackoffWaitTimeGrows(t *testing.T) {
	policy := NewExponentialBackoff().WithJitter(false).WithMinWaitTime(100 * time.Millisecond).WithMaxWaitTime(time.Second)
	w0 := policy.WaitTime(0)
	w1 := policy.WaitTime(1)
	w2 := policy.WaitTime(2)
	assert.Equal(t, 100*time.Millisecond, w0)
	assert.Greater(t, w1, w0)
	assert.Greater(t, w2, w1)
}

func TestExponentialBackoffWaitTimeCapsAtMax(t *testing.T) {
	policy := NewExponentialBackoff().WithJitter(false).WithMinWaitTime(time.Second).WithMaxWaitTime(2 * time.Second)
	assert.Equal(t, 2*time.Second, policy.WaitTime(10))
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := NewFixedDelay(5, time.Millisecond)
	calls := 0
	err := Do(ctx, policy, func(ctx context.Context) error {
		calls++
		return errors.New("fails")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
