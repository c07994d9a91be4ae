package analysis

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/novella/internal/providers"
)

// RetryPolicy bounds the backoff applied to rate-limit errors. Nothing else
// is retried.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxJitter    time.Duration
}

// DefaultRetryPolicy is 3 retries starting at 2s, doubling, with up to 1s
// of jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		Multiplier:   2,
		MaxJitter:    time.Second,
	}
}

// backoff returns the wait before retry number n (1-based).
func (p RetryPolicy) backoff(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(n-1)))
	if p.MaxJitter > 0 {
		d += rand.N(p.MaxJitter)
	}
	return d
}

// do runs fn until it succeeds, fails with a non-rate-limit error, the
// retries are spent, or ctx ends. fn receives the 1-based attempt number and
// must return a classified error.
func (p RetryPolicy) do(ctx context.Context, fn func(attempt int) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	attempt := 0
	var last error
	err := retry.Do(
		func() error {
			attempt++
			last = fn(attempt)
			return last
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.MaxRetries+1)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return KindOf(err) == KindRateLimit
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			wait := p.backoff(attempt)
			if hint := retryAfterHint(err); hint > wait {
				wait = hint
			}
			if onRetry != nil {
				onRetry(attempt, wait, err)
			}
			return wait
		}),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return &Error{Kind: KindCancelled, Err: ctx.Err()}
	}
	if last != nil {
		return last
	}
	return err
}

// maxRetryAfterHint caps how long a server hint may stretch one wait.
const maxRetryAfterHint = time.Minute

func retryAfterHint(err error) time.Duration {
	apiErr, ok := providers.AsAPIError(err)
	if !ok || apiErr.RetryAfter <= 0 {
		return 0
	}
	return min(apiErr.RetryAfter, maxRetryAfterHint)
}
