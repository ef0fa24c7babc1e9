package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
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

// Is reports whether target carries the same error code, so clones and
// wrapped copies of a predefined error still match it.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
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
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Academic records engine errors. Every value is an expected, recoverable
// outcome; only ErrInternal marks an infrastructure failure.
var (
	ErrMaintenanceActive = New("MAINTENANCE_ACTIVE", http.StatusServiceUnavailable, "system is in maintenance mode, academic records are read-only")
	ErrAlreadyEnrolled   = New("ALREADY_ENROLLED", http.StatusConflict, "student is already enrolled in this section")
	ErrScheduleConflict  = New("SCHEDULE_CONFLICT", http.StatusConflict, "section overlaps with an existing enrollment")
	ErrCapacityExceeded  = New("CAPACITY_EXCEEDED", http.StatusConflict, "section is full")
	ErrNotEnrolled       = New("NOT_ENROLLED", http.StatusNotFound, "student has no active enrollment in this section")
	ErrDeadlinePassed    = New("DEADLINE_PASSED", http.StatusUnprocessableEntity, "drop deadline has passed")
	ErrSectionLocked     = New("SECTION_LOCKED", http.StatusLocked, "grades for this section are finalized")
	ErrInvalidScore      = New("INVALID_SCORE", http.StatusBadRequest, "score is invalid")
	ErrAlreadyFinalized  = New("ALREADY_FINALIZED", http.StatusConflict, "section grading is already finalized")
	ErrScheduleParse     = New("SCHEDULE_PARSE_ERROR", http.StatusUnprocessableEntity, "section day/time could not be parsed")
	ErrSend              = New("SEND_FAILED", http.StatusBadRequest, "notification could not be sent")
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

// Internal wraps an infrastructure failure with a caller-facing message.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}

// IsInternal reports whether err is (or normalises to) an infrastructure failure.
func IsInternal(err error) bool {
	if err == nil {
		return false
	}
	return FromError(err).Code == ErrInternal.Code
}
