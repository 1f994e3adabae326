package retry

import (
	"context"
	"log/slog"
	"time"
)

// timeAfter is swapped out in tests to avoid real sleeps.
var timeAfter = time.After

// Classifier reports whether an error is worth retrying. A nil classifier
// retries every error up to the policy limit.
type Classifier func(error) bool

// Do runs fn, retrying transient failures per the policy. The context is
// checked between attempts; cancellation returns ctx.Err() immediately.
func Do(ctx context.Context, p Policy, op string, retryable Classifier, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying operation",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.Duration("delay", p.Delay(attempt)))
			if p.OnRetry != nil {
				p.OnRetry(op)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timeAfter(p.Delay(attempt)):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return lastErr
}
