// Package backoff wraps remote calls with bounded exponential retry.
package backoff

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retryable classifies whether an error is worth retrying. Rate-limit and
// quota errors qualify; everything else propagates immediately.
type Retryable func(error) bool

// Policy describes the retry schedule: delays grow as initial*2^attempt,
// capped at max, with up to 25% random jitter on each sleep.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultPolicy matches the engine's design defaults.
func DefaultPolicy() Policy {
	return Policy{
		Initial:     time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// schedule builds the retry schedule. The cap is applied after jitter so no
// sleep ever exceeds Max.
func (p Policy) schedule() retry.Backoff {
	b := retry.NewExponential(p.Initial)
	b = retry.WithJitterPercent(25, b)
	b = retry.WithCappedDuration(p.Max, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts), b)
}

// Do runs fn, retrying per the policy while isRetryable reports true for the
// returned error. The final error is returned unwrapped so callers can still
// classify it. Sleeps respect ctx cancellation.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, isRetryable Retryable, fn func(context.Context) error) error {
	b := p.schedule()

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		attempt++
		logger.Warn("retrying remote call",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"error", err)
		return retry.RetryableError(err)
	})
}
