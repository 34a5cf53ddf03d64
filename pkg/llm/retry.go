package llm

import (
	"context"
	"math/rand/v2"
	"regexp"
	"time"
)

// retryablePattern classifies transient provider failures. Auth,
// validation, and JSON-parse errors fall through and return immediately.
var retryablePattern = regexp.MustCompile(
	`(?i)timeout|rate[_ ]limit|429|5\d\d|overloaded|capacity|temporarily unavailable|connection|network`)

// IsRetryable reports whether an error message indicates a transient
// failure worth retrying.
func IsRetryable(errMsg string) bool {
	return retryablePattern.MatchString(errMsg)
}

type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// retryWithBackoff runs fn with exponential back-off on retryable errors:
// delay = min(base * 2^attempt, cap) + jitter[0,1s). Returns the number
// of retries performed alongside the result.
func retryWithBackoff(ctx context.Context, policy retryPolicy, fn func(context.Context) (*Response, error)) (*Response, int, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if attempt >= policy.maxRetries || !IsRetryable(err.Error()) {
			return nil, attempt, lastErr
		}

		delay := policy.baseDelay << attempt
		if delay > policy.maxDelay {
			delay = policy.maxDelay
		}
		delay += time.Duration(rand.Float64() * float64(time.Second))

		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(delay):
		}
	}
}
