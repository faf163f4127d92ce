// Package retry runs idempotent operations against the remote vector
// service with capped exponential backoff.
//
// Only failures carrying a rate-limit (429) or server-error (5xx) status
// are retried. The delay before retry n (0-indexed) is
// min(InitialDelay*2^n, MaxDelay). When attempts run out the last error is
// returned unchanged so callers can still match it with errors.Is/As.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/logging"
)

const (
	DefaultMaxRetries   = 5
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 60 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures Do.
type Options struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Name labels logs and metrics, e.g. "vectorstore.query".
	Name   string
	Logger *logging.Logger
	// Sleep replaces the real wait in tests.
	Sleep SleepFunc
}

// DefaultOptions returns the production policy.
func DefaultOptions() Options {
	return Options{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
	}
}

// Named returns a copy of o labelled name.
func (o Options) Named(name string) Options {
	o.Name = name
	return o
}

func (o Options) normalized() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.Name == "" {
		o.Name = "unnamed"
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// Delay returns the wait before retry n (0-indexed).
func (o Options) Delay(n int) time.Duration {
	o = o.normalized()
	d := o.InitialDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	if d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent.
//
// op must be idempotent: it may run up to MaxRetries times, and a failed
// attempt may have been applied remotely before its error was reported.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.normalized()
	var zero T
	var lastErr error
	start := time.Now()

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		attemptsTotal.WithLabelValues(opts.Name).Inc()

		v, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				opts.Logger.Info(ctx, "operation recovered after retries",
					zap.String("operation", opts.Name),
					zap.Int("attempts", attempt+1),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return v, nil
		}
		lastErr = err

		if !Retryable(err) {
			return zero, err
		}
		if attempt == opts.MaxRetries-1 {
			break
		}

		delay := opts.Delay(attempt)
		code, _ := StatusCode(err)
		retriesTotal.WithLabelValues(opts.Name).Inc()
		opts.Logger.Debug(ctx, "retrying operation after transient error",
			zap.String("operation", opts.Name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", opts.MaxRetries),
			zap.Int("status", code),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		if err := opts.Sleep(ctx, delay); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			return zero, err
		}
	}

	exhaustedTotal.WithLabelValues(opts.Name).Inc()
	opts.Logger.Warn(ctx, "operation failed after max retries",
		zap.String("operation", opts.Name),
		zap.Int("attempts", opts.MaxRetries),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr),
	)
	return zero, lastErr
}

// DoErr is Do for operations that return only an error.
func DoErr(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
