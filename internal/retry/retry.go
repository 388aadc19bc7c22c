// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retry runs external calls with per-attempt timeouts and
// exponential backoff. Retries are local to one call; callers decide what
// to do once attempts are exhausted.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy describes how one call is retried.
type Policy struct {
	// Retries is the number of attempts after the first one.
	Retries int

	// BaseDelay is the wait before the first retry. It doubles per
	// retry: BaseDelay, 2*BaseDelay, 4*BaseDelay, ...
	BaseDelay time.Duration

	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// Attempts returns the total number of calls the policy allows.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Backoff returns the delay before retry n (1-based).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return time.Duration(math.Pow(2, float64(n-1))) * p.BaseDelay
}

// ErrPermanent marks an error that must not be retried. Wrap it with
// Permanent.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() []error {
	return []error{e.err, ErrPermanent}
}

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls op until it succeeds, returns a permanent error, or the policy
// is exhausted. Each attempt receives a child context bounded by
// p.Timeout. If ctx is cancelled during a backoff wait, Do returns
// ctx.Err() wrapped with the last attempt's error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
		made    int
	)
	attempts := p.Attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(p.Backoff(attempt)):
			}
		}

		v, err := runAttempt(ctx, p.Timeout, op)
		made++
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			break
		}
	}
	if made == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("after %d attempts: %w", made, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

// Run is Do for operations that only return an error.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
