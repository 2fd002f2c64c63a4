package actions

import (
	"context"
	"errors"
	"time"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

const (
	defaultBaseDelayMs = 100
	defaultMaxDelayMs  = 5000
)

// ComputeBackoff returns the delay before the attempt-th retry (attempt 1 is
// the wait before the second try). Exponential backoff doubles from the base
// and never exceeds the cap.
func ComputeBackoff(cfg *schema.RetryConfig, attempt int) time.Duration {
	if cfg == nil || attempt < 1 {
		return 0
	}
	switch cfg.Backoff {
	case schema.BackoffExponential:
		base := cfg.BaseDelayMs
		if base <= 0 {
			base = defaultBaseDelayMs
		}
		max := cfg.MaxDelayMs
		if max <= 0 {
			max = defaultMaxDelayMs
		}
		delay := base << (attempt - 1)
		if delay > max || delay <= 0 {
			delay = max
		}
		return time.Duration(delay) * time.Millisecond
	default:
		delay := cfg.DelayMs
		if delay <= 0 {
			delay = defaultBaseDelayMs
		}
		return time.Duration(delay) * time.Millisecond
	}
}

// Retryable reports whether a failed attempt qualifies for another try under
// the policy. Status codes retry only when listed; an unlisted 4xx never
// retries. Timeouts and connection errors retry only when their flags are on.
func Retryable(cfg *schema.RetryConfig, statusCode int, err error) bool {
	if cfg == nil {
		return false
	}
	if err != nil {
		var engineErr *schema.EngineError
		if errors.As(err, &engineErr) {
			switch engineErr.Code {
			case schema.ErrCodeTimeout:
				return cfg.OnTimeout
			case schema.ErrCodeConnection:
				return cfg.OnConnectionError
			}
		}
		return false
	}
	for _, code := range cfg.OnStatus {
		if code == statusCode {
			return true
		}
	}
	return false
}

// AttemptFunc performs one try and reports the status code observed, if any.
type AttemptFunc func(ctx context.Context) (*Response, error)

// DoWithRetry runs fn under the retry policy, recording every attempt. The
// returned attempts slice always has at least one entry. When the budget is
// exhausted the final error is RETRY_EXHAUSTED wrapping the last failure.
// maxAttempts overrides cfg.MaxAttempts when positive (fault injection).
func DoWithRetry(ctx context.Context, cfg *schema.RetryConfig, maxAttempts int, fn AttemptFunc) (*Response, []schema.Attempt, error) {
	budget := 1
	if cfg != nil && cfg.MaxAttempts > 0 {
		budget = cfg.MaxAttempts
	}
	if maxAttempts > 0 {
		budget = maxAttempts
	}

	var attempts []schema.Attempt
	var lastErr error
	for i := 1; i <= budget; i++ {
		start := time.Now()
		resp, err := fn(ctx)
		record := schema.Attempt{
			Number:    i,
			LatencyMs: float64(time.Since(start).Milliseconds()),
		}
		if resp != nil {
			record.StatusCode = resp.StatusCode
			record.LatencyMs = float64(resp.LatencyMs)
		}
		if err != nil {
			record.Error = err.Error()
		}
		attempts = append(attempts, record)

		if err == nil && !statusListed(cfg, resp.StatusCode) {
			return resp, attempts, nil
		}
		lastErr = err
		if err == nil {
			lastErr = schema.NewErrorf(schema.ErrCodeActionExecution,
				"retryable status %d", resp.StatusCode).
				WithDetails(map[string]any{"status_code": resp.StatusCode})
		}

		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		// A non-retryable failure surfaces as-is; an exhausted budget with
		// more than one try produces RETRY_EXHAUSTED wrapping the last one.
		if !Retryable(cfg, statusCode, err) {
			return resp, attempts, lastErr
		}
		if i == budget {
			if i > 1 {
				return resp, attempts, schema.NewErrorf(schema.ErrCodeRetryExhausted,
					"all %d attempts failed", budget).WithCause(lastErr)
			}
			return resp, attempts, lastErr
		}

		if err := waitForBackoff(ctx, ComputeBackoff(cfg, i)); err != nil {
			return resp, attempts, err
		}
	}
	return nil, attempts, lastErr
}

// statusListed reports whether the status is in the retry-on list, i.e. a
// success response that the policy still treats as a failed attempt.
func statusListed(cfg *schema.RetryConfig, statusCode int) bool {
	if cfg == nil {
		return false
	}
	for _, code := range cfg.OnStatus {
		if code == statusCode {
			return true
		}
	}
	return false
}

func waitForBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(ctx.Err())
	case <-timer.C:
		return nil
	}
}
