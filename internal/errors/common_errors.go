package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Engine failures
	ErrTypeNotReady             ErrorType = "NOT_READY"
	ErrTypeParameterConflict    ErrorType = "PARAMETER_CONFLICT"
	ErrTypeNonFiniteObjective   ErrorType = "NON_FINITE_OBJECTIVE"
	ErrTypeRootNotBracketed     ErrorType = "ROOT_NOT_BRACKETED"
	ErrTypeOptimizerUnavailable ErrorType = "OPTIMIZER_UNAVAILABLE"

	// Ambient failures
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeConfig     ErrorType = "CONFIG"
	ErrTypeStorage    ErrorType = "STORAGE"
	ErrTypeParsing    ErrorType = "PARSING"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type.
// This lets callers match on a bare &AppError{Type: ...} template.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// Helper functions for common error types

// NewNotReadyError reports a model or provider that cannot be evaluated yet
func NewNotReadyError(message string) *AppError {
	return NewAppError(ErrTypeNotReady, message, nil)
}

// NewParameterConflictError reports a combined-model merge mismatch
func NewParameterConflictError(parameter string, message string) *AppError {
	return NewAppError(ErrTypeParameterConflict, message, nil).WithContext("parameter", parameter)
}

// NewNonFiniteObjectiveError reports a non-finite optimizer input or objective
func NewNonFiniteObjectiveError(message string) *AppError {
	return NewAppError(ErrTypeNonFiniteObjective, message, nil)
}

// NewRootNotBracketedError reports a search interval without a sign change
func NewRootNotBracketedError(lo, hi, fLo, fHi float64) *AppError {
	return NewAppError(ErrTypeRootNotBracketed, "search interval does not bracket a root", nil).
		WithContext("lo", lo).
		WithContext("hi", hi).
		WithContext("f_lo", fLo).
		WithContext("f_hi", fHi)
}

// NewOptimizerUnavailableError reports a missing or unusable minimizer
func NewOptimizerUnavailableError(message string, cause error) *AppError {
	return NewAppError(ErrTypeOptimizerUnavailable, message, cause)
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeValidation, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewParsingError creates a parsing-related error
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}
