package actions

import (
	"context"
	"errors"
	"time"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

const (
	defaultWaitIntervalSeconds = 1.0
	defaultWaitTimeoutSeconds  = 30.0
)

// WaitHandler polls the same request until the expectation holds or the
// timeout elapses. Assertion failures and transport errors during a poll
// mean "not ready yet"; only the deadline turns them into a timeout.
type WaitHandler struct{}

func (h *WaitHandler) Kind() schema.ActionKind { return schema.ActionWait }

func (h *WaitHandler) Execute(ctx context.Context, in *Input) error {
	interval := in.Spec.IntervalSeconds
	if interval <= 0 {
		interval = defaultWaitIntervalSeconds
	}
	timeout := in.Spec.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultWaitTimeoutSeconds
	}
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))

	http := &HTTPHandler{}
	var lastErr error
	polls := 0
	for {
		polls++
		lastErr = http.Execute(ctx, in)
		in.Observation.Polls = polls
		if lastErr == nil {
			return nil
		}
		if !pollable(lastErr) {
			return lastErr
		}
		if time.Now().After(deadline) {
			break
		}
		if err := waitForBackoff(ctx, time.Duration(interval*float64(time.Second))); err != nil {
			return err
		}
	}
	return schema.NewErrorf(schema.ErrCodeTimeout,
		"condition not met within %.1fs (%d polls)", timeout, polls).
		WithCause(lastErr)
}

// pollable reports whether a poll failure is worth waiting out. Template,
// validation, and cancellation errors fail the wait immediately.
func pollable(err error) bool {
	var engineErr *schema.EngineError
	if !errors.As(err, &engineErr) {
		return false
	}
	switch engineErr.Code {
	case schema.ErrCodeAssertionFailure,
		schema.ErrCodeConnection,
		schema.ErrCodeTimeout,
		schema.ErrCodeRetryExhausted,
		schema.ErrCodeActionExecution:
		return true
	}
	return false
}
