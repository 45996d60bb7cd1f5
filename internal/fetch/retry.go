package fetch

import (
	"context"
	"time"

	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
)

// RetryPolicy controls Retry.
type RetryPolicy struct {
	// Retries is the number of attempts after the first.
	Retries int
	// BaseDelay is the first backoff; each later one doubles it.
	BaseDelay time.Duration
	// OnRetry, if set, is called before each retry.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy backs off 1s, 2s, 4s.
var DefaultRetryPolicy = RetryPolicy{Retries: 3, BaseDelay: time.Second}

// Retry calls fn until it succeeds, fails with an error that is not
// retryable (see pkgerr.Retryable), or the retries are used up. The last
// error is returned unchanged.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.Retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr)
			}
			backoff := p.BaseDelay << uint(attempt-1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || !pkgerr.Retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
