// Package errors provides structured error handling for deepfocus operations.
// It defines error codes, error types, and utilities for creating and
// classifying errors raised by the enumerator, probe engine, governor,
// result store and export pipeline.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"

	// Enumeration errors.
	CodeInvalidRange ErrorCode = "INVALID_RANGE"

	// Probe errors.
	CodeConnectionRefused ErrorCode = "CONNECTION_REFUSED"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeProtocolMismatch  ErrorCode = "PROTOCOL_MISMATCH"
	CodeIO                ErrorCode = "IO"

	// Governor errors.
	CodeGovernorSample ErrorCode = "GOVERNOR_SAMPLE"

	// Store errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Export errors.
	CodeExport ErrorCode = "EXPORT"
)

// ProbeError represents an error that occurred while probing a single target.
type ProbeError struct {
	Code    ErrorCode
	Message string
	Target  string
	Step    string
	Cause   error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// WithStep records the handshake step the error occurred in.
func (e *ProbeError) WithStep(step string) *ProbeError {
	e.Step = step
	return e
}

// NewProbeError creates a new probe error with the specified code and message.
func NewProbeError(code ErrorCode, message, target string) *ProbeError {
	return &ProbeError{
		Code:    code,
		Message: message,
		Target:  target,
	}
}

// WrapProbeError wraps an existing error as a probe error.
func WrapProbeError(code ErrorCode, message, target string, err error) *ProbeError {
	return &ProbeError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
	}
}

// RangeError represents an invalid or oversized target range.
type RangeError struct {
	Range   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf("[%s] %s (range: %s)", CodeInvalidRange, e.Message, e.Range)
}

// Unwrap returns the underlying error.
func (e *RangeError) Unwrap() error {
	return e.Cause
}

// NewRangeError creates a new range error.
func NewRangeError(targetRange, message string) *RangeError {
	return &RangeError{Range: targetRange, Message: message}
}

// WrapRangeError wraps an existing error as a range error.
func WrapRangeError(targetRange, message string, err error) *RangeError {
	return &RangeError{Range: targetRange, Message: message, Cause: err}
}

// StoreError represents result store errors.
type StoreError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new store error.
func NewStoreError(code ErrorCode, message, operation string) *StoreError {
	return &StoreError{Code: code, Message: message, Operation: operation}
}

// WrapStoreError wraps an existing error as a store error.
func WrapStoreError(code ErrorCode, message, operation string, err error) *StoreError {
	return &StoreError{Code: code, Message: message, Operation: operation, Cause: err}
}

// ExportError represents export pipeline errors. The in-memory and on-disk
// results remain intact when one is raised; export may be retried.
type ExportError struct {
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s (path: %s)", CodeExport, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", CodeExport, e.Message)
}

// Unwrap returns the underlying error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// WrapExportError wraps an existing error as an export error.
func WrapExportError(path, message string, err error) *ExportError {
	return &ExportError{Path: path, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{Code: code, Message: message}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ProbeError:
		return e.Code
	case *RangeError:
		return CodeInvalidRange
	case *StoreError:
		return e.Code
	case *ExportError:
		return CodeExport
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a transient condition worth
// one more attempt. Refused connections are definitive and never retried.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeIO:
		return true
	default:
		return false
	}
}

// IsNegative reports whether an error is a negative scan result rather than
// a failure: the service is simply absent.
func IsNegative(err error) bool {
	return GetCode(err) == CodeConnectionRefused
}

// IsFatal determines if an error should stop the whole scan rather than a
// single target.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeValidation, CodeConfiguration, CodeInvalidRange, CodeDatabaseMigration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrRefused creates a probe error for a refused connection.
func ErrRefused(target string, err error) *ProbeError {
	return WrapProbeError(CodeConnectionRefused, "Connection refused", target, err)
}

// ErrProbeTimeout creates a probe error for a timed-out I/O step.
func ErrProbeTimeout(target string, err error) *ProbeError {
	return WrapProbeError(CodeTimeout, "Probe timed out", target, err)
}

// ErrProtocolMismatch creates a probe error for an unrecognized handshake.
func ErrProtocolMismatch(target string) *ProbeError {
	return NewProbeError(CodeProtocolMismatch, "Unrecognized protocol handshake", target)
}

// ErrProbeIO creates a probe error for a transient I/O failure.
func ErrProbeIO(target string, err error) *ProbeError {
	return WrapProbeError(CodeIO, "Probe I/O failed", target, err)
}

// ErrConfigInvalid creates an error for an invalid configuration value.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
