package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Connection error codes
const (
	ErrConnection   ErrorCode = "CONNECTION"
	ErrNotConnected ErrorCode = "NOT_CONNECTED"
)

// Tool error codes
const (
	ErrToolExecution       ErrorCode = "TOOL_EXECUTION"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrExecutionInProgress ErrorCode = "EXECUTION_IN_PROGRESS"
	ErrDebounced           ErrorCode = "DEBOUNCED"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
)

// Handoff error codes
const (
	ErrHandoff           ErrorCode = "HANDOFF"
	ErrHandoffNotFound   ErrorCode = "HANDOFF_NOT_FOUND"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Workflow error codes
const (
	ErrStage            ErrorCode = "STAGE"
	ErrWorkflowNotFound ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrWorkflowTerminal ErrorCode = "WORKFLOW_TERMINAL"
)

// Scheduler error codes
const (
	ErrSchedulerDispatch   ErrorCode = "SCHEDULER_DISPATCH"
	ErrInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	ErrTaskNotFound        ErrorCode = "TASK_NOT_FOUND"
)

// Generic error codes
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrPermission       ErrorCode = "PERMISSION"
	ErrNetwork          ErrorCode = "NETWORK"
	ErrRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewConnectionError reports a transport-level failure. These drive the
// reconnect policy and are retryable.
func NewConnectionError(message string, cause error) *Error {
	return NewError(ErrConnection, message).WithCause(cause).WithRetryable(true)
}

// NewNotConnectedError reports an operation attempted without a live connection.
func NewNotConnectedError() *Error {
	return NewError(ErrNotConnected, "not connected").WithHTTPStatus(http.StatusServiceUnavailable)
}

// NewToolExecutionError reports a remote tool failure after retries are exhausted.
func NewToolExecutionError(tool string, attempts int, cause error) *Error {
	return NewError(ErrToolExecution, fmt.Sprintf("tool %s failed after %d attempt(s)", tool, attempts)).
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway)
}

// NewRateLimitedError reports a locally rate limited call.
func NewRateLimitedError(message string) *Error {
	return NewError(ErrRateLimited, message).WithHTTPStatus(http.StatusTooManyRequests)
}

// NewHandoffError reports a failed remote orchestration call.
func NewHandoffError(id string, cause error) *Error {
	return NewError(ErrHandoff, fmt.Sprintf("handoff %s failed", id)).WithCause(cause)
}

// NewStageError reports a failed workflow stage.
func NewStageError(stage, message string) *Error {
	return NewError(ErrStage, fmt.Sprintf("stage %s failed: %s", stage, message))
}

// NewSchedulerDispatchError reports a failed scheduled dispatch.
func NewSchedulerDispatchError(taskID string, cause error) *Error {
	return NewError(ErrSchedulerDispatch, fmt.Sprintf("dispatch of task %s failed", taskID)).WithCause(cause)
}

// NewInvalidRequestError reports a programmer error.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// Cause classifies a failure for user-facing notification: permission,
// network, exhausted retries, or the error's own code.
func Cause(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if e, ok := cur.(*Error); ok {
			if e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden {
				return ErrPermission
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	switch GetErrorCode(err) {
	case ErrConnection, ErrNotConnected:
		return ErrNetwork
	case ErrToolExecution:
		return ErrRetriesExhausted
	case "":
		return ErrInternalError
	case ErrHandoff, ErrSchedulerDispatch:
		// classify by the underlying failure when there is one
		if e, _ := AsError(err); e.Cause != nil {
			if inner := Cause(e.Cause); inner != ErrInternalError {
				return inner
			}
		}
		return GetErrorCode(err)
	default:
		return GetErrorCode(err)
	}
}
