package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(opts ExecutorOptions) (*Executor, *[]time.Duration) {
	exec := NewExecutor(NopLimiter{}, opts, zerolog.Nop(), nil)
	var waits []time.Duration
	exec.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return exec, &waits
}

func TestExecutorRetriesQuotaWithLinearBackoff(t *testing.T) {
	exec, waits := newTestExecutor(ExecutorOptions{Name: "gemini", Backoff: 5 * time.Second, MaxAttempts: 3})

	calls := 0
	out, err := exec.Do(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{Provider: "gemini", StatusCode: 429}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *waits)
}

func TestExecutorNonTransientFailsImmediately(t *testing.T) {
	exec, waits := newTestExecutor(ExecutorOptions{Name: "groq", MaxAttempts: 5})

	calls := 0
	_, err := exec.Do(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", &StatusError{Provider: "groq", StatusCode: 400}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestExecutorReturnsLastErrorWhenExhausted(t *testing.T) {
	exec, waits := newTestExecutor(ExecutorOptions{Name: "groq", MaxAttempts: 2, Backoff: time.Second})

	calls := 0
	_, err := exec.Do(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("attempt %d: %w", calls, ErrQuota)
	})

	require.Error(t, err)
	assert.True(t, IsQuota(err))
	assert.Contains(t, err.Error(), "attempt 2")
	assert.Equal(t, 2, calls)
	// no sleep after the final attempt
	assert.Len(t, *waits, 1)
}

func TestExecutorTimesOutSlowCalls(t *testing.T) {
	exec, _ := newTestExecutor(ExecutorOptions{Name: "perplexity", Timeout: 20 * time.Millisecond, MaxAttempts: 1})

	start := time.Now()
	_, err := exec.Do(context.Background(), func(ctx context.Context) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecutorTimeoutIgnoresUncooperativeCall(t *testing.T) {
	exec, _ := newTestExecutor(ExecutorOptions{Name: "slow", Timeout: 20 * time.Millisecond, MaxAttempts: 1})
	release := make(chan struct{})
	defer close(release)

	_, err := exec.Do(context.Background(), func(context.Context) (string, error) {
		<-release
		return "never", nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecutorParentCancellationIsNotRetried(t *testing.T) {
	exec, waits := newTestExecutor(ExecutorOptions{Name: "groq", MaxAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Do(ctx, func(ctx context.Context) (string, error) {
		return "", ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *waits)
}

func TestExecutorBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	exec, _ := newTestExecutor(ExecutorOptions{Name: "groq", MaxAttempts: 1, BreakerFailures: 2, BreakerCooldown: time.Hour})

	var calls int32
	failing := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", &StatusError{Provider: "groq", StatusCode: 503}
	}
	for i := 0; i < 2; i++ {
		_, err := exec.Do(context.Background(), failing)
		require.Error(t, err)
	}

	_, err := exec.Do(context.Background(), failing)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "open breaker must short-circuit the call")
}

func TestIntervalLimiterSpacesCalls(t *testing.T) {
	limiter := NewIntervalLimiter(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	// first call is immediate, the next two wait one interval each
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestIntervalLimiterSharedAcrossGoroutines(t *testing.T) {
	limiter := NewIntervalLimiter(20 * time.Millisecond)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, times, 4)
	first, last := times[0], times[0]
	for _, ts := range times {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 50*time.Millisecond)
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(&StatusError{StatusCode: 429}))
	assert.True(t, IsTransient(&StatusError{StatusCode: 502}))
	assert.False(t, IsTransient(&StatusError{StatusCode: 401}))
	assert.True(t, IsTransient(fmt.Errorf("wrap: %w", ErrTimeout)))
	assert.True(t, IsTransient(errors.New("You exceeded your current quota")))
	assert.False(t, IsTransient(ErrParse))
	assert.False(t, IsTransient(ErrNoCredentials))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, SleepContext(context.Background(), time.Millisecond))
	require.NoError(t, SleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, SleepContext(ctx, 0), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
