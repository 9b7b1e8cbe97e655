package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/sethvargo/go-retry"

	"github.com/kay-mw/mkdockyard"
)

// RetryPolicy bounds how often a transient failure is retried. Only errors
// classified as retryable (NETWORK_ERROR) are retried; everything else fails
// on the first attempt.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first; values below 1 mean 1
	BaseDelay   time.Duration // Delay before the second attempt, doubled after each failure
	MaxDelay    time.Duration // Upper bound on a single delay; zero means unbounded
}

// DefaultRetryPolicy returns 3 attempts starting at 1s, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}

	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(uint64(p.attempts()-1), b) //nolint:gosec // attempts() is at least 1
}

// Do runs fn until it succeeds, fails permanently or the attempts run out.
// fn receives the 1-based attempt number. The last error is returned. A
// context canceled while waiting between attempts yields CANCELED, one whose
// deadline passes yields TIMEOUT.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, fn func(ctx context.Context, attempt int) error) error {
	var (
		attempt int
		lastErr error
	)

	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !platformerrors.IsRetryable(lastErr) || attempt >= p.attempts() {
			return lastErr
		}

		logger.Warn("Fetch failed, retrying", "attempt", attempt, "max_attempts", p.attempts(), "error", lastErr)
		return retry.RetryableError(lastErr)
	})
	if err == nil {
		return nil
	}

	ctxErr := ctx.Err()
	if ctxErr == nil || platformerrors.GetCode(err) != platformerrors.CodeUnknown {
		return err
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return platformerrors.WithClassification(
			platformerrors.Wrap(ctxErr, platformerrors.CodeTimeout, "fetch deadline exceeded"),
			platformerrors.ClassificationPermanent,
		)
	}
	return platformerrors.Wrap(ctxErr, mkdockyard.CodeCanceled, "fetch canceled")
}
