package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a Paperclip error code.
type ErrorCode string

// Error codes
const (
	ErrInvalidRequest          ErrorCode = "INVALID_REQUEST"          // 400
	ErrUnknownField            ErrorCode = "UNKNOWN_FIELD"            // 400
	ErrNotFound                ErrorCode = "NOT_FOUND"                // 404
	ErrConflict                ErrorCode = "CONFLICT"                 // 409
	ErrInvariantViolation      ErrorCode = "INVARIANT_VIOLATION"      // 409
	ErrPaymentFailed           ErrorCode = "PAYMENT_FAILED"           // 402
	ErrCollaboratorUnavailable ErrorCode = "COLLABORATOR_UNAVAILABLE" // 503
	ErrTransientNetwork        ErrorCode = "TRANSIENT_NETWORK"        // 503
	ErrInternal                ErrorCode = "INTERNAL"                 // 500
)

// PaperclipError is the standard error type for all Paperclip operations.
type PaperclipError struct {
	Code    ErrorCode      `json:"code"`
	Status  int            `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *PaperclipError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates an INVALID_REQUEST error.
func NewInvalidRequest(message string) *PaperclipError {
	return &PaperclipError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: message,
	}
}

// NewUnknownField creates an UNKNOWN_FIELD error for a modification request
// naming a field that cannot be changed.
func NewUnknownField(field string) *PaperclipError {
	return &PaperclipError{
		Code:    ErrUnknownField,
		Status:  400,
		Message: fmt.Sprintf("unknown field %q", field),
		Details: map[string]any{
			"field": field,
		},
	}
}

// NewNotFound creates a NOT_FOUND error.
func NewNotFound(identifier string) *PaperclipError {
	return &PaperclipError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found", identifier),
		Details: map[string]any{
			"identifier": identifier,
		},
	}
}

// NewConflict creates a CONFLICT error.
func NewConflict(message string) *PaperclipError {
	return &PaperclipError{
		Code:    ErrConflict,
		Status:  409,
		Message: message,
	}
}

// NewInvariantViolation creates an INVARIANT_VIOLATION error listing the
// agents involved.
func NewInvariantViolation(message string, agents ...string) *PaperclipError {
	err := &PaperclipError{
		Code:    ErrInvariantViolation,
		Status:  409,
		Message: message,
		Details: map[string]any{},
	}
	if len(agents) > 0 {
		err.Details["agents"] = agents
	}
	return err
}

// NewPaymentFailed creates a PAYMENT_FAILED error.
func NewPaymentFailed(reason, paymentID string) *PaperclipError {
	err := &PaperclipError{
		Code:    ErrPaymentFailed,
		Status:  402,
		Message: reason,
		Details: map[string]any{},
	}
	if paymentID != "" {
		err.Details["payment_id"] = paymentID
	}
	return err
}

// NewCollaboratorUnavailable creates a COLLABORATOR_UNAVAILABLE error for a
// named external collaborator (signer, strategy module, market context).
func NewCollaboratorUnavailable(collaborator string, cause error) *PaperclipError {
	err := &PaperclipError{
		Code:    ErrCollaboratorUnavailable,
		Status:  503,
		Message: fmt.Sprintf("%s unavailable", collaborator),
		Details: map[string]any{
			"collaborator": collaborator,
		},
	}
	if cause != nil {
		err.Details["cause"] = cause.Error()
	}
	return err
}

// NewTransientNetwork creates a TRANSIENT_NETWORK error.
func NewTransientNetwork(cause error) *PaperclipError {
	msg := "transient network error"
	if cause != nil {
		msg = cause.Error()
	}
	return &PaperclipError{
		Code:    ErrTransientNetwork,
		Status:  503,
		Message: msg,
	}
}

// NewInternal creates an INTERNAL error.
// The message is generic to avoid leaking internal details (file paths, SQL errors).
// The original error is stored in Details["internal_error"] for logging.
func NewInternal(err error) *PaperclipError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &PaperclipError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error (or any error in its chain) is a PaperclipError with the given code.
func Is(err error, code ErrorCode) bool {
	var pe *PaperclipError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
