package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeTemplate          = "TEMPLATE_ERROR"
	ErrCodeJSONPath          = "JSONPATH_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeConnection        = "CONNECTION_ERROR"
	ErrCodeAssertionFailure  = "ASSERTION_FAILURE"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeActionExecution   = "ACTION_EXECUTION_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeConfig            = "CONFIG_ERROR"
	ErrCodeSink              = "SINK_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeAborted           = "ABORTED"
)

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Action  string         `json:"action,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("[%s] action %s: %s", e.Code, e.Action, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAction attaches an action name to the error.
func (e *EngineError) WithAction(name string) *EngineError {
	e.Action = name
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}
