// Package apperr defines the error taxonomy shared by the deletion-request
// pipeline. Handlers map these to HTTP statuses; the send path uses them to
// distinguish retryable quota failures from permission failures that require
// re-authorization.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError indicates malformed or inconsistent caller input. Not retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError indicates a duplicate active deletion request. Not retried.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Conflict builds a ConflictError from a format string.
func Conflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// PermissionError indicates a missing mail scope. The caller should prompt the
// user to re-authorize; the backoff mechanism never retries it.
type PermissionError struct {
	Msg string
}

func (e *PermissionError) Error() string { return e.Msg }

// QuotaExceededError indicates the mail provider rejected a call for quota or
// rate reasons. RetryAfter is a suggested wait in seconds, 0 when the provider
// gave none.
type QuotaExceededError struct {
	Msg        string
	RetryAfter int
}

func (e *QuotaExceededError) Error() string { return e.Msg }

// RetryLaterError indicates a send was refused locally because a backoff
// window is still in effect.
type RetryLaterError struct {
	RetryAt time.Time
}

func (e *RetryLaterError) Error() string {
	wait := time.Until(e.RetryAt)
	minutes := int(wait.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("send rate limit in effect, retry in approximately %d minute(s)", minutes)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsPermission reports whether err is a PermissionError.
func IsPermission(err error) bool {
	var e *PermissionError
	return errors.As(err, &e)
}

// IsQuotaExceeded reports whether err is a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var e *QuotaExceededError
	return errors.As(err, &e)
}

// IsRetryLater reports whether err is a RetryLaterError.
func IsRetryLater(err error) bool {
	var e *RetryLaterError
	return errors.As(err, &e)
}
