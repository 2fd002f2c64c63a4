package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

func TestComputeBackoffExponential(t *testing.T) {
	cfg := &schema.RetryConfig{
		Backoff:     schema.BackoffExponential,
		BaseDelayMs: 100,
		MaxDelayMs:  1000,
	}

	assert.Equal(t, 100*time.Millisecond, ComputeBackoff(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, ComputeBackoff(cfg, 2))
	assert.Equal(t, 400*time.Millisecond, ComputeBackoff(cfg, 3))
	assert.Equal(t, 800*time.Millisecond, ComputeBackoff(cfg, 4))
	assert.Equal(t, 1000*time.Millisecond, ComputeBackoff(cfg, 5), "capped at max_delay_ms")
	assert.Equal(t, 1000*time.Millisecond, ComputeBackoff(cfg, 50), "stays capped for large attempts")

	// non-decreasing until capped
	prev := time.Duration(0)
	for k := 1; k <= 20; k++ {
		d := ComputeBackoff(cfg, k)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", k)
		prev = d
	}
}

func TestComputeBackoffFixed(t *testing.T) {
	cfg := &schema.RetryConfig{Backoff: schema.BackoffFixed, DelayMs: 250}
	assert.Equal(t, 250*time.Millisecond, ComputeBackoff(cfg, 1))
	assert.Equal(t, 250*time.Millisecond, ComputeBackoff(cfg, 7))
	assert.Equal(t, time.Duration(0), ComputeBackoff(nil, 1))
}

func TestRetryableClassification(t *testing.T) {
	cfg := &schema.RetryConfig{
		MaxAttempts:       3,
		OnStatus:          []int{429, 503},
		OnTimeout:         true,
		OnConnectionError: false,
	}

	assert.True(t, Retryable(cfg, 503, nil))
	assert.True(t, Retryable(cfg, 429, nil))
	assert.False(t, Retryable(cfg, 404, nil), "unlisted 4xx never retries")
	assert.False(t, Retryable(cfg, 400, nil))
	assert.False(t, Retryable(cfg, 500, nil), "unlisted 5xx does not retry either")

	assert.True(t, Retryable(cfg, 0, schema.NewError(schema.ErrCodeTimeout, "deadline")))
	assert.False(t, Retryable(cfg, 0, schema.NewError(schema.ErrCodeConnection, "refused")))
	assert.False(t, Retryable(cfg, 0, errors.New("opaque")))
	assert.False(t, Retryable(nil, 503, nil))
}

func TestDoWithRetryRecoversAfterRetryableStatuses(t *testing.T) {
	cfg := &schema.RetryConfig{MaxAttempts: 3, OnStatus: []int{503}, Backoff: schema.BackoffFixed, DelayMs: 1}

	statuses := []int{503, 503, 200}
	calls := 0
	resp, attempts, err := DoWithRetry(context.Background(), cfg, 0, func(ctx context.Context) (*Response, error) {
		status := statuses[calls]
		calls++
		return &Response{StatusCode: status}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	require.Len(t, attempts, 3, "all attempts recorded, including failed ones")
	assert.Equal(t, 503, attempts[0].StatusCode)
	assert.Equal(t, 503, attempts[1].StatusCode)
	assert.Equal(t, 200, attempts[2].StatusCode)
	assert.Equal(t, 1, attempts[0].Number)
	assert.Equal(t, 3, attempts[2].Number)
}

func TestDoWithRetryExhausted(t *testing.T) {
	cfg := &schema.RetryConfig{MaxAttempts: 3, OnStatus: []int{503}, Backoff: schema.BackoffFixed, DelayMs: 1}

	_, attempts, err := DoWithRetry(context.Background(), cfg, 0, func(ctx context.Context) (*Response, error) {
		return &Response{StatusCode: 503}, nil
	})

	require.Error(t, err)
	assert.Len(t, attempts, 3)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeRetryExhausted, engineErr.Code)
}

func TestDoWithRetryNonRetryableStopsImmediately(t *testing.T) {
	cfg := &schema.RetryConfig{MaxAttempts: 5, OnStatus: []int{503}, OnTimeout: false, DelayMs: 1}

	calls := 0
	_, attempts, err := DoWithRetry(context.Background(), cfg, 0, func(ctx context.Context) (*Response, error) {
		calls++
		return nil, schema.NewError(schema.ErrCodeTimeout, "deadline")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "timeout with on_timeout=false is not retried")
	assert.Len(t, attempts, 1)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeTimeout, engineErr.Code)
}

func TestDoWithRetryUnlistedStatusIsSuccess(t *testing.T) {
	cfg := &schema.RetryConfig{MaxAttempts: 3, OnStatus: []int{503}, DelayMs: 1}

	resp, attempts, err := DoWithRetry(context.Background(), cfg, 0, func(ctx context.Context) (*Response, error) {
		return &Response{StatusCode: 404}, nil
	})

	// retry policy does not judge the response; expect does
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Len(t, attempts, 1)
}

func TestDoWithRetryOverrideBudget(t *testing.T) {
	cfg := &schema.RetryConfig{MaxAttempts: 5, OnStatus: []int{503}, DelayMs: 1}

	calls := 0
	_, attempts, err := DoWithRetry(context.Background(), cfg, 2, func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{StatusCode: 503}, nil
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls, "fault-injection override caps the budget")
	assert.Len(t, attempts, 2)
}

func TestDoWithRetryNoConfigSingleAttempt(t *testing.T) {
	calls := 0
	resp, attempts, err := DoWithRetry(context.Background(), nil, 0, func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{StatusCode: 500}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Len(t, attempts, 1)
}

func TestDoWithRetryCancelledDuringBackoff(t *testing.T) {
	cfg := &schema.RetryConfig{MaxAttempts: 3, OnStatus: []int{503}, Backoff: schema.BackoffFixed, DelayMs: 5000}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := DoWithRetry(ctx, cfg, 0, func(ctx context.Context) (*Response, error) {
		return &Response{StatusCode: 503}, nil
	})
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeCancelled, engineErr.Code)
}
