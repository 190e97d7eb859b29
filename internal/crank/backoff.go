package crank

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/chain"
)

// Backoff describes a bounded exponential retry policy.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultBackoff matches the submit-retry policy used across the cranks.
var DefaultBackoff = Backoff{
	Base:     500 * time.Millisecond,
	Max:      8 * time.Second,
	Attempts: 5,
}

// Delay returns the sleep before the given zero-based retry attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base << uint(attempt)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Retry runs fn up to b.Attempts times, sleeping between attempts. Only
// errors the chain taxonomy classifies as transient are retried; program
// errors surface immediately. Cancellable between attempts via ctx.
func Retry(ctx context.Context, log zerolog.Logger, b Backoff, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(b.Delay(attempt - 1)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !chain.IsRetryable(lastErr) {
			return fmt.Errorf("%s: %w", op, lastErr)
		}

		log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt+1).Int("max", b.Attempts).
			Msg("transient failure, will retry")
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}
