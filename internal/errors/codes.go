package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies sync engine failures
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeValidation     ErrorCode = 1000
	ErrCodeMissingBackend ErrorCode = 1001
	ErrCodeAlreadyRunning ErrorCode = 1002

	// Recoverable environment errors
	ErrCodeTransport ErrorCode = 2000
	ErrCodeStorage   ErrorCode = 2001
	ErrCodeTimeout   ErrorCode = 2002
	ErrCodeCancelled ErrorCode = 2003
)

// SyncError represents a structured error with code and context
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// New creates a new SyncError
func New(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	e.Details[key] = value
	return e
}

// CodeOf returns the ErrorCode carried by err, or ErrCodeOK for nil and
// ErrCodeStorage for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeStorage
}

// IsRecoverable reports whether the error should flip sync status to
// pending rather than surface to the caller.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeTransport, ErrCodeStorage, ErrCodeTimeout, ErrCodeMissingBackend:
		return true
	}
	return false
}

// Convenience constructors for common errors

func Validation(field, reason string) *SyncError {
	return New(ErrCodeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil).
		WithDetail("field", field)
}

func Transport(action string, cause error) *SyncError {
	return New(ErrCodeTransport, fmt.Sprintf("remote call %q failed", action), cause).
		WithDetail("action", action)
}

func AlreadyRunning(operation string) *SyncError {
	return New(ErrCodeAlreadyRunning, fmt.Sprintf("%s already running", operation), nil).
		WithDetail("operation", operation)
}

func MissingBackend() *SyncError {
	return New(ErrCodeMissingBackend, "no backend endpoint configured", nil)
}

func Timeout(task string) *SyncError {
	return New(ErrCodeTimeout, fmt.Sprintf("task %q timed out", task), nil).
		WithDetail("task", task)
}
