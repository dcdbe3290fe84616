// Package retry runs operations with bounded, constant-delay retries.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config bounds an execution: the first attempt plus Retries further
// attempts, separated by a constant Delay.
type Config struct {
	Retries int
	Delay   time.Duration
}

// Do runs op until it succeeds or the attempt budget is exhausted, waiting
// Delay between attempts. The context is checked before every attempt and
// raced against the inter-attempt wait; once it fires, no further attempts
// run and the context's error is returned. The delay is constant, never
// exponential.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		res, err := op(ctx)
		if err != nil && ctx.Err() != nil {
			// The surrounding fetch was cancelled; a per-attempt
			// timeout alone stays retryable.
			return zero, backoff.Permanent(ctx.Err())
		}
		return res, err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Delay), uint64(max(cfg.Retries, 0)))
	return backoff.RetryWithData(attempt, backoff.WithContext(policy, ctx))
}
