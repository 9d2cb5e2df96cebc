package guarderr

import (
	"errors"
	"fmt"
)

// Category classifies guard errors so callers can decide whether to
// retry, surface, or abort without string matching.
type Category string

const (
	// CategoryNotFound covers unknown session or approval identifiers.
	CategoryNotFound Category = "NOT_FOUND"
	// CategoryValidation covers schema mismatches on load and bad config.
	CategoryValidation Category = "VALIDATION"
	// CategorySecurity covers malformed or traversal-bearing session ids.
	CategorySecurity Category = "SECURITY"
	// CategoryTransientIO covers disk and network failures worth retrying.
	CategoryTransientIO Category = "TRANSIENT_IO"
)

// Error is a categorized error with component and operation context.
type Error struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Retryable reports whether the error is worth retrying. Only transient
// I/O qualifies; the other categories are integrity violations.
func (e *Error) Retryable() bool {
	return e.Category == CategoryTransientIO
}

// NewNotFound builds a NotFound error.
func NewNotFound(component, operation, message string) *Error {
	return &Error{Category: CategoryNotFound, Component: component, Operation: operation, Message: message}
}

// NewValidation builds a ValidationError naming the offending field path.
func NewValidation(component, operation, message string) *Error {
	return &Error{Category: CategoryValidation, Component: component, Operation: operation, Message: message}
}

// NewSecurity builds a SecurityError for rejected identifiers.
func NewSecurity(component, operation, message string) *Error {
	return &Error{Category: CategorySecurity, Component: component, Operation: operation, Message: message}
}

// WrapIO wraps a disk or network failure as transient.
func WrapIO(err error, component, operation string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Category:   CategoryTransientIO,
		Component:  component,
		Operation:  operation,
		Message:    "i/o failure",
		Underlying: err,
	}
}

func is(err error, cat Category) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Category == cat
	}
	return false
}

// IsNotFound reports whether err carries the NotFound category.
func IsNotFound(err error) bool { return is(err, CategoryNotFound) }

// IsValidation reports whether err carries the Validation category.
func IsValidation(err error) bool { return is(err, CategoryValidation) }

// IsSecurity reports whether err carries the Security category.
func IsSecurity(err error) bool { return is(err, CategorySecurity) }

// IsTransientIO reports whether err carries the TransientIO category.
func IsTransientIO(err error) bool { return is(err, CategoryTransientIO) }
