package snapshot

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes edit and sync errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a missing record, column or pending state
	// (e.g. accepting a cell with no suggestion).
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeValidation indicates malformed operation input.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConflict indicates a remote change collided with a pending local
	// edit. Conflicts are resolved by policy and reported, not thrown; the code
	// exists for callers that surface them as errors.
	ErrCodeConflict ErrorCode = "CONFLICT"
)

// Error is the error type returned by snapshot operations.
// Errors are surfaced to the caller and never retried.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// WsID identifies the affected record, if any.
	WsID string

	// Column identifies the affected column, if any.
	Column string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.WsID != "" && e.Column != "":
		return fmt.Sprintf("%s: %s (record=%s, column=%s)", e.Code, e.Message, e.WsID, e.Column)
	case e.WsID != "":
		return fmt.Sprintf("%s: %s (record=%s)", e.Code, e.Message, e.WsID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError creates an Error with ErrCodeNotFound.
func NewNotFoundError(wsID, column, message string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: message, WsID: wsID, Column: column}
}

// NewValidationError creates an Error with ErrCodeValidation.
func NewValidationError(wsID, column, message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message, WsID: wsID, Column: column}
}

// NewConflictError creates an Error with ErrCodeConflict.
func NewConflictError(wsID, column, message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message, WsID: wsID, Column: column}
}

// IsNotFound returns true if err is a not-found error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsConflict returns true if err is a conflict error.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
