package translator

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/ratelimit"
)

// RetryPolicy bounds how transient translator failures are retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times starting at one second.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: time.Second,
	MaxInterval:     20 * time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	// The instruction deadline bounds total time, not the backoff.
	eb.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// newLimiter returns a limiter allowing rps calls per second, or no limit
// when rps is not positive.
func newLimiter(rps int) ratelimit.Limiter {
	if rps <= 0 {
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(rps)
}

// call runs op under the limiter and retry policy. op marks failures that
// must not be retried with backoff.Permanent.
func call(ctx context.Context, name string, policy RetryPolicy, limiter ratelimit.Limiter, op func() (string, error)) (string, error) {
	attempt := 0
	throttled := func() (string, error) {
		attempt++
		limiter.Take()
		if err := ctx.Err(); err != nil {
			return "", backoff.Permanent(err)
		}
		return op()
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("translator call failed, retrying",
			"translator", name,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
	}
	return backoff.RetryNotifyWithData(throttled, policy.backOff(ctx), notify)
}
