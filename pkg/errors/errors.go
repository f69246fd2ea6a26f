// Package errors provides standardized error types for the storage router.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error codes covering the core subsystems.
const (
	CodeInvalidSpec          = "INVALID_SPEC"
	CodeBackendNotFound      = "BACKEND_NOT_FOUND"
	CodeBackendBusy          = "BACKEND_BUSY"
	CodeNoEligibleBackend    = "NO_ELIGIBLE_BACKEND"
	CodeEmptyOrAmbiguous     = "EMPTY_OR_AMBIGUOUS_QUERY"
	CodeLowConfidence        = "LOW_CONFIDENCE_CLASSIFICATION"
	CodeStepFailed           = "STEP_FAILED"
	CodePlanTimeout          = "PLAN_TIMEOUT"
	CodeNotConfirmed         = "DESTRUCTIVE_OPERATION_NOT_CONFIRMED"
	CodeMigrationFailed      = "MIGRATION_FAILED"
	CodeBackendUnavailable   = "BACKEND_UNAVAILABLE"
	CodeRecordNotFound       = "RECORD_NOT_FOUND"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeDeadlineExceeded     = "DEADLINE_EXCEEDED"
	CodeCanceled             = "CANCELED"
	CodeInternal             = "INTERNAL_ERROR"
	CodeStateConflict        = "STATE_CONFLICT"
	CodeMaintenanceFailed    = "MAINTENANCE_FAILED"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
)

// StorageError represents a storage router error with code, message, and optional details.
type StorageError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by code.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails adds details to the error.
func (e *StorageError) WithDetails(details map[string]interface{}) *StorageError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common errors
var (
	ErrInvalidSpec        = &StorageError{Code: CodeInvalidSpec, Message: "invalid backend spec"}
	ErrBackendNotFound    = &StorageError{Code: CodeBackendNotFound, Message: "backend not found"}
	ErrBackendBusy        = &StorageError{Code: CodeBackendBusy, Message: "backend has in-flight operations"}
	ErrNoEligibleBackend  = &StorageError{Code: CodeNoEligibleBackend, Message: "no eligible backend for routing"}
	ErrEmptyQuery         = &StorageError{Code: CodeEmptyOrAmbiguous, Message: "query is empty or ambiguous"}
	ErrLowConfidence      = &StorageError{Code: CodeLowConfidence, Message: "classification confidence below threshold"}
	ErrPlanTimeout        = &StorageError{Code: CodePlanTimeout, Message: "execution plan deadline exceeded"}
	ErrNotConfirmed       = &StorageError{Code: CodeNotConfirmed, Message: "destructive operation requires confirmation"}
	ErrRecordNotFound     = &StorageError{Code: CodeRecordNotFound, Message: "record not found"}
	ErrBackendUnavailable = &StorageError{Code: CodeBackendUnavailable, Message: "backend unavailable"}
	ErrMigrationFailed    = &StorageError{Code: CodeMigrationFailed, Message: "tier migration failed"}
)

// New creates a new StorageError with the given code and message.
func New(code, message string) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new StorageError with a formatted message.
func Newf(code, format string, args ...interface{}) *StorageError {
	return &StorageError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a StorageError.
func Wrap(err error, code, message string) *StorageError {
	if err == nil {
		return nil
	}
	return &StorageError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *StorageError {
	if err == nil {
		return nil
	}
	return &StorageError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsNotFound checks if an error is a backend or record not found error.
func IsNotFound(err error) bool {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.Code == CodeBackendNotFound || serr.Code == CodeRecordNotFound
	}
	return false
}

// IsBusy checks if an error is a backend busy error.
func IsBusy(err error) bool {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.Code == CodeBackendBusy
	}
	return false
}

// IsTransient reports whether a step failure may be retried. Timeouts and
// unavailable backends are transient; everything else is terminal.
func IsTransient(err error) bool {
	var serr *StorageError
	if errors.As(err, &serr) {
		switch serr.Code {
		case CodeDeadlineExceeded, CodeBackendUnavailable:
			return true
		}
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.Message
	}
	return err.Error()
}
