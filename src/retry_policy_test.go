package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestRetryPolicy_SucceedsFirstTry(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_SucceedsAfterFailures(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	var seen []int
	err := p.Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRetryPolicy_StopsAtMaxAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_WaitsOnlyBetweenAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Delay: 20 * time.Millisecond}
	start := time.Now()
	_ = p.Do(context.Background(), func(int) error { return errFlaky })
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRetryPolicy_ZeroAttemptsStillTriesOnce(t *testing.T) {
	p := RetryPolicy{}
	calls := 0
	_ = p.Do(context.Background(), func(int) error {
		calls++
		return errFlaky
	})
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_CancelledDuringDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, func(int) error {
		calls++
		cancel()
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_WorstCase(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Delay: time.Second}
	worst := p.WorstCase(5 * time.Second)
	assert.Equal(t, 17*time.Second, worst)
	assert.LessOrEqual(t, worst, 3*(5*time.Second+time.Second))
}
