// Package errors provides error code definitions shared across the core and
// the presentation shell boundary.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that can be bridged to the UI.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"
	ErrQueueFull ErrorCode = "QUEUE_FULL"

	// Consistency errors, rejected synchronously at record creation
	ErrNoActiveSession     ErrorCode = "NO_ACTIVE_SESSION"
	ErrDuplicateCompletion ErrorCode = "DUPLICATE_COMPLETION"
	ErrSessionAmbiguous    ErrorCode = "SESSION_AMBIGUOUS"
	ErrSessionOpen         ErrorCode = "SESSION_ALREADY_OPEN"

	// Sync errors
	ErrSyncFailed      ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress  ErrorCode = "SYNC_IN_PROGRESS"
	ErrRemoteRejected  ErrorCode = "REMOTE_REJECTED"
	ErrRemoteTimeout   ErrorCode = "REMOTE_TIMEOUT"
	ErrNetworkOffline  ErrorCode = "NETWORK_OFFLINE"
	ErrRetryExhausted  ErrorCode = "RETRY_EXHAUSTED"
	ErrRemoteRateLimit ErrorCode = "REMOTE_RATE_LIMIT"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for stderrors.As(err, &appErr) {
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
		appErr = nil
	}
	return false
}

// Code extracts the outermost error code, or ErrInternal when the error is
// not an AppError.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// retryableCodes are the transient failures that keep a queue item pending.
// Everything else is treated as permanent: validation failures and remote
// rejections do not improve with repetition.
var retryableCodes = map[ErrorCode]bool{
	ErrRemoteTimeout:   true,
	ErrNetworkOffline:  true,
	ErrSyncFailed:      true,
	ErrRemoteRateLimit: true,
}

// IsRetryable classifies an error as transient (retry with backoff) or
// permanent (fail the queue item immediately).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return retryableCodes[Code(err)]
}
