// Package errors provides structured error types for the Quiver engine.
// Every failure surfaced to a caller carries a category and code so that
// collaborators can react without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the spec's taxonomy.
type ErrorCategory string

const (
	ErrCategorySyntax      ErrorCategory = "SYNTAX"
	ErrCategorySchema      ErrorCategory = "SCHEMA"
	ErrCategoryDuplicate   ErrorCategory = "DUPLICATE_KEY"
	ErrCategoryNotFound    ErrorCategory = "NOT_FOUND"
	ErrCategoryUnsupported ErrorCategory = "UNSUPPORTED"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Syntax codes
	CodeMalformedStatement = "MALFORMED_STATEMENT"

	// Schema codes
	CodeUnknownTable  = "UNKNOWN_TABLE"
	CodeUnknownField  = "UNKNOWN_FIELD"
	CodeTypeMismatch  = "TYPE_MISMATCH"
	CodeMissingKey    = "MISSING_KEY"
	CodeInvalidSchema = "INVALID_SCHEMA"
	CodeTableExists   = "TABLE_EXISTS"

	// Duplicate / not-found codes
	CodeDuplicateKey = "DUPLICATE_KEY"
	CodeKeyNotFound  = "KEY_NOT_FOUND"

	// Unsupported codes
	CodeNoRangeSupport   = "NO_RANGE_SUPPORT"
	CodeNoSpatialSupport = "NO_SPATIAL_SUPPORT"
	CodeUnsupportedOp    = "UNSUPPORTED_OPERATION"

	// Storage codes
	CodeFreedSlot     = "FREED_SLOT"
	CodeOutOfRange    = "OUT_OF_RANGE"
	CodeCorruptImage  = "CORRUPT_IMAGE"
	CodeTableUnusable = "TABLE_UNUSABLE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// QuiverError is the structured error type used throughout the engine.
type QuiverError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error

	// Line and Column locate syntax errors in the input text (1-based).
	Line   int
	Column int
}

// Error returns a formatted error string.
func (e *QuiverError) Error() string {
	if e.Category == ErrCategorySyntax {
		return fmt.Sprintf("[%s:%s] line %d, column %d: %s", e.Category, e.Code, e.Line, e.Column, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *QuiverError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *QuiverError) Is(target error) bool {
	var t *QuiverError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new QuiverError.
func New(category ErrorCategory, code, message string) *QuiverError {
	return &QuiverError{Category: category, Code: code, Message: message}
}

// Wrap creates a new QuiverError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *QuiverError {
	return &QuiverError{Category: category, Code: code, Message: message, Cause: cause}
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a QuiverError.
func GetCategory(err error) ErrorCategory {
	var qe *QuiverError
	if errors.As(err, &qe) {
		return qe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a QuiverError.
func GetCode(err error) string {
	var qe *QuiverError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// IsCategory reports whether the error chain contains a QuiverError of the
// given category.
func IsCategory(err error, category ErrorCategory) bool {
	return GetCategory(err) == category
}

// IsDuplicateKey reports whether err is a duplicate-key failure.
func IsDuplicateKey(err error) bool { return IsCategory(err, ErrCategoryDuplicate) }

// IsNotFound reports whether err is an absent-key failure.
func IsNotFound(err error) bool { return IsCategory(err, ErrCategoryNotFound) }

// Convenience constructors for common errors.

func NewSyntaxError(line, column int, message string) *QuiverError {
	return &QuiverError{
		Category: ErrCategorySyntax,
		Code:     CodeMalformedStatement,
		Message:  message,
		Line:     line,
		Column:   column,
	}
}

func NewSchemaError(code, message string) *QuiverError {
	return New(ErrCategorySchema, code, message)
}

func NewDuplicateKeyError(key string) *QuiverError {
	return New(ErrCategoryDuplicate, CodeDuplicateKey, fmt.Sprintf("key %s already exists", key))
}

func NewNotFoundError(key string) *QuiverError {
	return New(ErrCategoryNotFound, CodeKeyNotFound, fmt.Sprintf("key %s not found", key))
}

func NewUnsupportedError(code, message string) *QuiverError {
	return New(ErrCategoryUnsupported, code, message)
}

func NewStorageError(code, message string, cause error) *QuiverError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *QuiverError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
