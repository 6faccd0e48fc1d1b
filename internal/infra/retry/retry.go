// Package retry implements the shared exponential-backoff engine used by
// every AI backend adapter.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy holds the backoff parameters. These are configuration, not
// constants; deployments override them via config.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxRetries   int
}

// DefaultPolicy: 1s initial, doubling, capped at 10s, 3 retries.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
		MaxRetries:   3,
	}
}

// Backoff returns the delay before retry attempt n (0-based):
// min(initial * multiplier^n, max). Monotonically non-decreasing.
func (p Policy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n)))
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// Runner executes a call under a policy. Safe for concurrent use.
type Runner struct {
	policy  Policy
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(attempt int, err error)
}

// Option mutates a Runner at construction.
type Option func(*Runner)

// WithSleep swaps the sleep function; tests use it to record delays
// instead of waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// WithOnRetry installs a hook invoked before each backoff sleep, e.g. to
// count retries in metrics.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(r *Runner) { r.onRetry = fn }
}

func New(p Policy, opts ...Option) *Runner {
	r := &Runner{policy: p, sleep: sleepCtx}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the runner's policy.
func (r *Runner) Policy() Policy { return r.policy }

// Do runs fn until it succeeds, the error is not retryable, or the retry
// budget is exhausted. shouldRetry classifies errors; cancellation of ctx
// aborts in-flight backoff sleeps without further attempts.
func (r *Runner) Do(ctx context.Context, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= r.policy.MaxRetries || !shouldRetry(err) {
			return err
		}
		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}
		if serr := r.sleep(ctx, r.policy.Backoff(attempt)); serr != nil {
			return serr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
