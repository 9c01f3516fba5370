package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"signal-intel/internal/metrics"
)

const (
	defaultMinInterval = 2 * time.Second
	defaultTimeout     = 30 * time.Second
	defaultBackoff     = 5 * time.Second
	defaultMaxAttempts = 3
)

// Limiter spaces outbound calls. One instance is shared by every caller of a
// provider so concurrent stages queue behind the same clock.
type Limiter interface {
	Wait(ctx context.Context) error
}

// IntervalLimiter admits one call per minimum interval.
type IntervalLimiter struct {
	limiter *rate.Limiter
}

// NewIntervalLimiter returns a limiter that admits a call immediately and
// then at most one call every minInterval.
func NewIntervalLimiter(minInterval time.Duration) *IntervalLimiter {
	if minInterval <= 0 {
		return &IntervalLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &IntervalLimiter{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

func (l *IntervalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// NopLimiter never blocks.
type NopLimiter struct{}

func (NopLimiter) Wait(ctx context.Context) error { return ctx.Err() }

// Call is a single provider attempt. It must honour ctx cancellation.
type Call func(ctx context.Context) (string, error)

// ExecutorOptions tune attempts, deadlines and the circuit breaker.
type ExecutorOptions struct {
	Name            string
	Timeout         time.Duration
	MaxAttempts     int
	Backoff         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Executor runs provider calls through a shared limiter with a per-attempt
// deadline, retry with linear backoff and a circuit breaker.
type Executor struct {
	name        string
	limiter     Limiter
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	breaker     *gobreaker.CircuitBreaker
	metrics     *metrics.Registry
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires an executor. A nil limiter disables spacing.
func NewExecutor(limiter Limiter, opts ExecutorOptions, logger zerolog.Logger, reg *metrics.Registry) *Executor {
	if limiter == nil {
		limiter = NopLimiter{}
	}
	if opts.Name == "" {
		opts.Name = "provider"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = time.Minute
	}

	failures := opts.BreakerFailures
	settings := gobreaker.Settings{
		Name:     opts.Name,
		Interval: 2 * opts.BreakerCooldown,
		Timeout:  opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// client errors say nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	}

	e := &Executor{
		name:        opts.Name,
		limiter:     limiter,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		metrics:     reg,
		logger:      logger.With().Str("component", "executor").Str("provider", opts.Name).Logger(),
		sleep:       SleepContext,
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		e.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	}
	e.breaker = gobreaker.NewCircuitBreaker(settings)
	return e
}

// Name returns the provider name the executor guards.
func (e *Executor) Name() string { return e.name }

// Do runs call with the configured attempt budget.
func (e *Executor) Do(ctx context.Context, call Call) (string, error) {
	return e.DoAttempts(ctx, call, e.maxAttempts)
}

// DoAttempts runs call up to maxAttempts times. Quota and transient failures
// wait backoff×attempt before the next attempt; other failures return
// immediately. The last error is returned once attempts are exhausted.
func (e *Executor) DoAttempts(ctx context.Context, call Call, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%s: wait for rate limiter: %w", e.name, err)
		}

		start := time.Now()
		out, err := e.guarded(ctx, call)
		e.metrics.ObserveProviderCall(e.name, resultLabel(err), time.Since(start))
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == maxAttempts {
			break
		}

		wait := e.backoff * time.Duration(attempt)
		e.metrics.IncProviderRetry(e.name)
		e.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Bool("quota", IsQuota(err)).
			Msg("provider call failed, retrying")
		if err := e.sleep(ctx, wait); err != nil {
			return "", fmt.Errorf("%s: backoff interrupted: %w", e.name, err)
		}
	}
	return "", lastErr
}

func (e *Executor) guarded(ctx context.Context, call Call) (string, error) {
	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.attempt(ctx, call)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%s: %w", e.name, err)
		}
		return "", err
	}
	text, _ := out.(string)
	return text, nil
}

// attempt races one call against the executor timeout.
func (e *Executor) attempt(ctx context.Context, call Call) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := call(attemptCtx)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && attemptCtx.Err() != nil {
			return "", fmt.Errorf("%s: %w after %s", e.name, ErrTimeout, e.timeout)
		}
		return r.out, r.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s: %w after %s", e.name, ErrTimeout, e.timeout)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsQuota(err):
		return "quota"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
