package remote

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
)

// RetryPolicy retries idempotent requests with exponential backoff.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy makes three attempts starting at 500ms, doubling.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:     3,
	InitialDelay: 500 * time.Millisecond,
	Multiplier:   2,
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := p.InitialDelay
	next := retry.BackoffFunc(func() (time.Duration, bool) {
		d := delay
		delay = time.Duration(float64(delay) * multiplier)
		return d, false
	})
	return retry.WithMaxRetries(uint64(attempts-1), next)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn()
		if err == nil || !retryable(err) {
			return err
		}
		logging.Debug("Retrying save server request", map[string]interface{}{
			"operation": op,
			"attempt":   attempt,
			"error":     err.Error(),
		})
		return retry.RetryableError(err)
	})
}
