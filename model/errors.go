package model

import (
	"errors"
	"fmt"
)

// Standard error codes. The boundary layer maps these onto transport status
// codes (Validation→400, Forbidden→403, NotFound→404, Conflict→409,
// Internal→500); the core only guarantees the code and a message.
const (
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrForbidden         = "FORBIDDEN"
	ErrInternalError     = "INTERNAL_ERROR"
)

// ErrorEnvelope is the standard structured error returned by the core.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidationError returns a VALIDATION_ERROR.
func NewValidationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrValidationError, Message: msg}
}

// NewFieldValidationError returns a VALIDATION_ERROR with field-level details.
func NewFieldValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error. It is a
// validation-class error raised by the state machines when a transition is
// attempted from a state outside the method's allowed source set.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error. Absence and cross-tenant
// invisibility produce the same error so existence never leaks across
// tenants.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error (optimistic-lock mismatch or
// duplicate write).
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR wrapping a storage or
// infrastructure failure.
func NewInternalError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInternalError, Message: msg}
}

// ErrorCode extracts the envelope code from an error, or INTERNAL_ERROR for
// anything that is not an ErrorEnvelope.
func ErrorCode(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ErrInternalError
}

// IsValidation reports whether err is a validation-class error, including
// invalid state transitions.
func IsValidation(err error) bool {
	code := ErrorCode(err)
	return code == ErrValidationError || code == ErrInvalidTransition
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return ErrorCode(err) == ErrNotFound }

// IsConflict reports whether err is a CONFLICT error.
func IsConflict(err error) bool { return ErrorCode(err) == ErrConflict }

// IsForbidden reports whether err is a FORBIDDEN error.
func IsForbidden(err error) bool { return ErrorCode(err) == ErrForbidden }
