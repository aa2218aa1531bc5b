package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or environment
	ErrCatExecution  ErrorCategory = "execution"  // Agent process failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatState      ErrorCategory = "state"      // State conflict
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Agent execution error codes. Each maps to a distinct remediation path:
// re-authenticate, install/fix the executable path, or simply retry.
const (
	CodeTimeout            = "TIMEOUT"
	CodeProcessFailed      = "PROCESS_FAILED"
	CodeExecutableNotFound = "EXECUTABLE_NOT_FOUND"
	CodeSpawnFailed        = "SPAWN_FAILED"
	CodeDirectoryDenied    = "DIRECTORY_NOT_ACCESSIBLE"
	CodeAuthRequired       = "AUTH_REQUIRED"

	CodeTicketNotFound  = "TICKET_NOT_FOUND"
	CodeProjectNotFound = "PROJECT_NOT_FOUND"
	CodeAlreadyRunning  = "ALREADY_RUNNING"
)

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error for an exhausted deadline.
func ErrTimeout(d time.Duration) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeTimeout,
		Message:   fmt.Sprintf("process timed out after %s", d),
		Retryable: true,
		Details:   map[string]interface{}{"timeout_seconds": int(d.Seconds())},
	}
}

// ErrProcessFailed creates an error for a non-zero agent exit.
func ErrProcessFailed(exitCode int) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeProcessFailed,
		Message:   fmt.Sprintf("process failed with exit code %d", exitCode),
		Retryable: true,
		Details:   map[string]interface{}{"exit_code": exitCode},
	}
}

// ErrExecutableNotFound creates an error for a missing agent binary.
// The message carries remediation guidance since the fix is external.
func ErrExecutableNotFound(path, hint string) *DomainError {
	msg := fmt.Sprintf("executable not found: %s", path)
	if hint != "" {
		msg += " (" + hint + ")"
	}
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeExecutableNotFound,
		Message:   msg,
		Retryable: false,
	}
}

// ErrSpawnFailed creates an error for an OS-level spawn/wait failure.
func ErrSpawnFailed(cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeSpawnFailed,
		Message:   "process spawn failed",
		Retryable: true,
		Cause:     cause,
	}
}

// ErrDirectoryNotAccessible creates an error for an invalid working directory.
func ErrDirectoryNotAccessible(dir string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeDirectoryDenied,
		Message:   fmt.Sprintf("working directory not accessible: %s", dir),
		Retryable: false,
	}
}

// ErrAuthRequired creates an error for an agent CLI that is not logged in.
func ErrAuthRequired(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      CodeAuthRequired,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrTicketNotFound creates a not found error with the ticket-specific code.
func ErrTicketNotFound(id string) *DomainError {
	e := ErrNotFound("ticket", id)
	e.Code = CodeTicketNotFound
	return e
}

// ErrProjectNotFound creates a not found error with the project-specific code.
func ErrProjectNotFound(id string) *DomainError {
	e := ErrNotFound("project", id)
	e.Code = CodeProjectNotFound
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// GetCode extracts the error code, or empty for non-domain errors.
func GetCode(err error) string {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return ""
}
