package modkit

import (
	"context"
	"time"
)

// RetryPolicy is the shared exponential-backoff policy used by every
// durably-retryable activity (spec.md calls these "Activities": C7's
// dispatch call, C8's schedule rebuild, C6 create/delete). Supplements the
// original Temporal-shaped per-activity retry policies in
// original_source/src/workflows/*.py without translating their code.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy matches spec.md §4.7/§4.8: max 3 attempts, initial 2s,
// cap 30s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: 2 * time.Second,
	MaxDelay:     30 * time.Second,
}

// Retry runs fn up to p.MaxAttempts times, doubling the delay between
// attempts up to p.MaxDelay, but only retries errors tagged KindTransient.
// Any other error (or a nil error) returns immediately.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}
