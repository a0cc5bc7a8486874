package supervisor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SupervisorError is the error type returned by the supervisor. Code names
// the policy or failure that ended the operation.
type SupervisorError struct {
	// Code identifies the error type
	Code ErrorCode

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// ErrorCode identifies categories of errors
type ErrorCode string

const (
	// Construction and validation errors
	ErrorCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	ErrorCodeDuplicateChildID     ErrorCode = "DUPLICATE_CHILD_ID"

	// Process lifecycle errors
	ErrorCodeForkFailed               ErrorCode = "FORK_FAILED"
	ErrorCodeStartupFailed            ErrorCode = "STARTUP_FAILED"
	ErrorCodeWaitFailed               ErrorCode = "WAIT_FAILED"
	ErrorCodeRestartIntensityExceeded ErrorCode = "RESTART_INTENSITY_EXCEEDED"
	ErrorCodeInterrupted              ErrorCode = "INTERRUPTED"

	// Caller errors
	ErrorCodeInvalidState         ErrorCode = "INVALID_STATE"
	ErrorCodeNotRunning           ErrorCode = "NOT_RUNNING"
	ErrorCodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"
	ErrorCodeChildNotFound        ErrorCode = "CHILD_NOT_FOUND"
	ErrorCodeChildRunning         ErrorCode = "CHILD_RUNNING"
)

// Error implements the error interface
func (e *SupervisorError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *SupervisorError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SupervisorError with the given code and message
func NewError(code ErrorCode, message string) *SupervisorError {
	return &SupervisorError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *SupervisorError) WithContext(key string, value interface{}) *SupervisorError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *SupervisorError) WithCause(cause error) *SupervisorError {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *SupervisorError) WithSuggestion(suggestion string) *SupervisorError {
	e.Suggestion = suggestion
	return e
}

// ErrInvalidConfiguration reports a rejected flag or spec value
func ErrInvalidConfiguration(field string, value interface{}, reason string) *SupervisorError {
	return NewError(ErrorCodeInvalidConfiguration,
		fmt.Sprintf("invalid %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value)
}

// ErrDuplicateChildID reports two specs sharing an id
func ErrDuplicateChildID(id string, first, second int) *SupervisorError {
	return NewError(ErrorCodeDuplicateChildID,
		fmt.Sprintf("child id %q is declared more than once", id)).
		WithContext("child_id", id).
		WithContext("first_index", first).
		WithContext("second_index", second).
		WithSuggestion("Give every child spec a unique id")
}

// ErrForkFailed wraps a launcher failure for one child
func ErrForkFailed(childID string, cause error) *SupervisorError {
	return NewError(ErrorCodeForkFailed,
		fmt.Sprintf("failed to launch child %q", childID)).
		WithContext("child_id", childID).
		WithCause(cause)
}

// ErrStartupFailed reports that the initial launch sequence was aborted
func ErrStartupFailed(childID string, cause error) *SupervisorError {
	return NewError(ErrorCodeStartupFailed,
		fmt.Sprintf("startup aborted while launching child %q", childID)).
		WithContext("child_id", childID).
		WithCause(cause).
		WithSuggestion("Check that the worker executable exists and is runnable")
}

// ErrWaitFailed reports a failure of the exit observation primitive
func ErrWaitFailed(cause error) *SupervisorError {
	return NewError(ErrorCodeWaitFailed,
		"cannot observe child exits, supervisor state is no longer trusted").
		WithCause(cause)
}

// ErrRestartIntensityExceeded reports the rate limiter veto
func ErrRestartIntensityExceeded(childID string, intensity int, period time.Duration) *SupervisorError {
	return NewError(ErrorCodeRestartIntensityExceeded,
		fmt.Sprintf("child %q exceeded restart intensity", childID)).
		WithContext("child_id", childID).
		WithContext("intensity", intensity).
		WithContext("period", period.String()).
		WithSuggestion("Inspect the child's logs for the crash cause, or raise intensity/period")
}

// ErrInterrupted reports a shutdown requested from outside the tree
func ErrInterrupted() *SupervisorError {
	return NewError(ErrorCodeInterrupted, "supervisor interrupted")
}

// ErrNotRunning is returned by requests made outside the Running state
func ErrNotRunning(state State) *SupervisorError {
	return NewError(ErrorCodeNotRunning, "supervisor is not running").
		WithContext("state", state.String())
}

// ErrChildNotFound reports an unknown child id
func ErrChildNotFound(id string) *SupervisorError {
	return NewError(ErrorCodeChildNotFound,
		fmt.Sprintf("child %q not found", id)).
		WithContext("child_id", id)
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var se *SupervisorError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" if none
func GetErrorCode(err error) ErrorCode {
	var se *SupervisorError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
