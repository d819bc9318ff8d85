// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application. The five kinds from §7 of the
// specification (ConfigError, InvariantViolation, CapacityOverflow,
// Singular, TransportFault) are the ones the solver and exchanger actually
// raise at run time; the remaining codes are ambient (storage, config
// loading) and mirror the teacher's error taxonomy.
const (
	CodeUnknown       = "UNKNOWN_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeUploadError   = "UPLOAD_ERROR"
	CodeDownloadError = "DOWNLOAD_ERROR"
	CodeParseError    = "PARSE_ERROR"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeTimeout       = "TIMEOUT_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeConfigError   = "CONFIG_ERROR"

	CodeInvariantViolation = "INVARIANT_VIOLATION"
	CodeCapacityOverflow   = "CAPACITY_OVERFLOW"
	CodeSingular           = "SINGULAR_MATRIX"
	CodeTransportFault     = "TRANSPORT_FAULT"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
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

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrDatabaseError       = New(CodeDatabaseError, "database error")
	ErrUploadError         = New(CodeUploadError, "upload error")
	ErrDownloadError       = New(CodeDownloadError, "download error")
	ErrParseError          = New(CodeParseError, "parse error")
	ErrInvalidInput        = New(CodeInvalidInput, "invalid input")
	ErrTimeout             = New(CodeTimeout, "operation timeout")
	ErrNotFound            = New(CodeNotFound, "resource not found")
	ErrConfigError         = New(CodeConfigError, "configuration error")
	ErrInvariantViolation  = New(CodeInvariantViolation, "invariant violation")
	ErrCapacityOverflow    = New(CodeCapacityOverflow, "capacity overflow")
	ErrSingular            = New(CodeSingular, "singular pivot")
	ErrTransportFault      = New(CodeTransportFault, "transport fault")
)

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// IsUploadError checks if the error is an upload error.
func IsUploadError(err error) bool {
	return errors.Is(err, ErrUploadError)
}

// IsDownloadError checks if the error is a download error.
func IsDownloadError(err error) bool {
	return errors.Is(err, ErrDownloadError)
}

// IsInvariantViolation checks if the error is an invariant violation.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

// IsCapacityOverflow checks if the error is a capacity overflow.
func IsCapacityOverflow(err error) bool {
	return errors.Is(err, ErrCapacityOverflow)
}

// IsSingular checks if the error is a singular-pivot failure.
func IsSingular(err error) bool {
	return errors.Is(err, ErrSingular)
}

// IsTransportFault checks if the error is a transport fault.
func IsTransportFault(err error) bool {
	return errors.Is(err, ErrTransportFault)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// ErrorInfo provides a name-to-code mapping for external callers (CLI exit
// reporting, checkpoint audit logs) that only have the kind's name.
var ErrorInfo = map[string]string{
	"DatabaseError":       CodeDatabaseError,
	"UploadError":         CodeUploadError,
	"DownloadError":       CodeDownloadError,
	"InvariantViolation":  CodeInvariantViolation,
	"CapacityOverflow":    CodeCapacityOverflow,
	"Singular":            CodeSingular,
	"TransportFault":      CodeTransportFault,
}
