// Package retry executes unreliable operations with bounded attempts and
// exponential backoff. A failed execution is reported as a Result, never a panic.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Defaults applied by Execute when a Config field is zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of calls including the first attempt.
	MaxAttempts int
	// BaseDelay is the first backoff wait; each further wait doubles it.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
	// JitterPercent spreads each wait by up to ±N percent.
	JitterPercent uint64
	// AttemptTimeout bounds each call of the operation. Zero means the
	// caller's context is the only bound.
	AttemptTimeout time.Duration
	// IsRetryable classifies an error. Nil treats every error as retryable;
	// a non-retryable error ends execution immediately.
	IsRetryable func(error) bool
	// OnRetry is called after a failed attempt that will be retried.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

func (c Config) backoff() goretry.Backoff {
	b := goretry.NewExponential(c.BaseDelay)
	if c.JitterPercent > 0 {
		b = goretry.WithJitterPercent(c.JitterPercent, b)
	}
	if c.MaxDelay > 0 {
		b = goretry.WithCappedDuration(c.MaxDelay, b)
	}
	return goretry.WithMaxRetries(uint64(c.MaxAttempts-1), b)
}

// Result is the outcome of Execute.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// OK reports whether the operation eventually succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Unwrap returns the value and error as a conventional pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// Operation is a unit of work that may be invoked more than once.
type Operation[T any] func(ctx context.Context) (T, error)

// Execute invokes op until it succeeds, returns a non-retryable error,
// MaxAttempts calls have been made, or ctx is done. After the final failed
// attempt the last error is returned in the Result.
func Execute[T any](ctx context.Context, cfg Config, op Operation[T]) Result[T] {
	cfg = cfg.withDefaults()

	var res Result[T]
	var lastErr error
	err := goretry.Do(ctx, cfg.backoff(), func(ctx context.Context) error {
		res.Attempts++
		value, err := call(ctx, cfg.AttemptTimeout, op)
		if err == nil {
			res.Value = value
			return nil
		}
		lastErr = err
		if cfg.IsRetryable != nil && !cfg.IsRetryable(err) {
			return err
		}
		if res.Attempts < cfg.MaxAttempts && cfg.OnRetry != nil {
			cfg.OnRetry(res.Attempts, err)
		}
		return goretry.RetryableError(err)
	})

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) && lastErr != nil {
		err = fmt.Errorf("retry cancelled after attempt %d: %w", res.Attempts, errors.Join(err, lastErr))
	}
	res.Err = err
	return res
}

func call[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(ctx)
}
