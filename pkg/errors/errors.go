package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned sentinels still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound        = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden       = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized    = New("UNAUTHORIZED", http.StatusUnauthorized, "Access token required")
	ErrInvalidToken    = New("INVALID_TOKEN", http.StatusForbidden, "Invalid or expired token")
	ErrConflict        = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation      = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal        = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrTooManyRequests = New("TOO_MANY_REQUESTS", http.StatusTooManyRequests, "Too many requests. Please try again later.")
)

// Session and admission errors. Conflicts surface as 400 to match the published client contract.
var (
	ErrActiveSessionExists  = New("ACTIVE_SESSION_EXISTS", http.StatusBadRequest, "Active session already exists for this course")
	ErrCodeAllocation       = New("CODE_ALLOCATION_EXHAUSTED", http.StatusInternalServerError, "Failed to generate unique class code")
	ErrInvalidCodeFormat    = New("INVALID_CODE_FORMAT", http.StatusBadRequest, "Invalid class code format")
	ErrInvalidClassCode     = New("INVALID_CODE", http.StatusBadRequest, "Invalid class code or session not active")
	ErrSessionExpired       = New("SESSION_EXPIRED", http.StatusBadRequest, "Session has expired")
	ErrLocationVerification = New("LOCATION_VERIFICATION_FAILED", http.StatusBadRequest, "Location verification failed")
	ErrAlreadySubmitted     = New("ALREADY_SUBMITTED", http.StatusBadRequest, "Attendance already submitted for this session")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
