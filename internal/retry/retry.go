// Package retry runs outbound calls with per-attempt timeouts and capped
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default policy values.
const (
	DefaultAttempts       = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 10 * time.Second
	DefaultAttemptTimeout = 30 * time.Second

	// BackoffMultiplier grows the delay after each failed attempt: 1s, 2s, 4s...
	BackoffMultiplier = 2.0

	// Jitter spreads each delay over [d/2, 3d/2].
	Jitter = 0.5
)

// Policy configures Do.
type Policy struct {
	Attempts       int           // total attempts including the first
	BaseDelay      time.Duration // delay before the second attempt
	MaxDelay       time.Duration // cap on any single delay before jitter
	AttemptTimeout time.Duration // deadline applied to each attempt; 0 = none

	// OnRetry is called before sleeping ahead of attempt n (1-based) after err.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns the policy used for platform calls.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       DefaultAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

func (p Policy) newBackOff(randomization float64) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Multiplier = BackoffMultiplier
	b.RandomizationFactor = randomization
	b.Reset()
	return b
}

// Backoff returns the delay before attempt n (n >= 2), without jitter.
func (p Policy) Backoff(n int) time.Duration {
	if n < 2 {
		return 0
	}
	b := p.newBackOff(0)
	var d time.Duration
	for i := 2; i <= n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. It stops early when ctx is done and returns ctx's error.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return v, nil
		}
		// The caller gave up; an attempt deadline is not the same thing
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if retryable == nil || !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.newBackOff(Jitter)),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, _ time.Duration) {
			p.OnRetry(attempt+1, err)
		}))
	}

	v, err := backoff.Retry(ctx, op, opts...)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return v, permanent.Err
	}
	return v, err
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
