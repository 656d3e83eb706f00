// Package errors provides structured error handling for Strata, including the
// four contract error kinds reported to operators: missing_column,
// type_mismatch, invalid_evolution and schema_violation.
package errors

import (
	"errors"
	"fmt"

	"github.com/ajitpratap0/strata/pkg/models"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors.
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeNotFound represents unknown layers or schema versions.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeData represents row parsing and I/O errors.
	ErrorTypeData ErrorType = "data"

	// ErrorTypeMissingColumn means a row omitted a required column.
	ErrorTypeMissingColumn ErrorType = "missing_column"
	// ErrorTypeTypeMismatch means a row value does not conform to the
	// column's declared type.
	ErrorTypeTypeMismatch ErrorType = "type_mismatch"
	// ErrorTypeInvalidEvolution means a proposed schema change would rename
	// or remove an existing column.
	ErrorTypeInvalidEvolution ErrorType = "invalid_evolution"
	// ErrorTypeSchemaViolation means a registered spec regresses the current
	// version: drops a required column or changes a declared type.
	ErrorTypeSchemaViolation ErrorType = "schema_violation"
)

// Error is a structured error with a category and key-value details. All
// contract errors are recoverable: they reject one row or one proposal, never
// the pipeline.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value, or nil when absent.
func (e *Error) Detail(key string) any {
	return e.Details[key]
}

// New creates a new error with the given type and message.
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...any) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with additional context. Wrapping nil returns
// nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: errType, Message: message, Cause: err}
}

// Wrapf wraps an existing error with a formatted message. Wrapping nil
// returns nil.
func Wrapf(err error, errType ErrorType, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Cause: err}
}

// IsType checks if the error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// As extracts a structured error from err.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// NewMissingColumn reports a row missing a required column. The column name
// is carried both in the message and in the "column" detail.
func NewMissingColumn(layer models.Layer, column string) *Error {
	return Newf(ErrorTypeMissingColumn, "layer %s: required column %q is missing", layer, column).
		WithDetail("layer", string(layer)).
		WithDetail("column", column)
}

// NewTypeMismatch reports a value that does not conform to the column's
// declared type.
func NewTypeMismatch(layer models.Layer, column string, want models.ColumnType, got any) *Error {
	return Newf(ErrorTypeTypeMismatch, "layer %s: column %q expects %s, got %T", layer, column, want, got).
		WithDetail("layer", string(layer)).
		WithDetail("column", column).
		WithDetail("expected", string(want)).
		WithDetail("actual", fmt.Sprintf("%T", got))
}

// NewInvalidEvolution reports a proposed change that would rename or remove a
// column.
func NewInvalidEvolution(layer models.Layer, column, reason string) *Error {
	return Newf(ErrorTypeInvalidEvolution, "layer %s: column %q: %s", layer, column, reason).
		WithDetail("layer", string(layer)).
		WithDetail("column", column)
}

// NewSchemaViolation reports a spec that regresses the current schema version.
func NewSchemaViolation(layer models.Layer, column, reason string) *Error {
	return Newf(ErrorTypeSchemaViolation, "layer %s: column %q: %s", layer, column, reason).
		WithDetail("layer", string(layer)).
		WithDetail("column", column)
}
