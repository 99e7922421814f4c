package errors

import (
	"fmt"
	"testing"
)

func TestPaperclipError_Error(t *testing.T) {
	err := &PaperclipError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "capsule not found",
	}

	expected := "NOT_FOUND: capsule not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("goal is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "goal is required" {
		t.Errorf("Message = %q, want %q", err.Message, "goal is required")
	}
}

func TestNewUnknownField(t *testing.T) {
	err := NewUnknownField("archetype")

	if err.Code != ErrUnknownField {
		t.Errorf("Code = %q, want %q", err.Code, ErrUnknownField)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Details["field"] != "archetype" {
		t.Errorf("Details[field] = %v, want %q", err.Details["field"], "archetype")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("01HX")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "01HX" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01HX")
	}
}

func TestNewInvariantViolation(t *testing.T) {
	err := NewInvariantViolation("agent already committed", "a", "b")

	if err.Code != ErrInvariantViolation {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvariantViolation)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	agents, ok := err.Details["agents"].([]string)
	if !ok || len(agents) != 2 {
		t.Errorf("Details[agents] = %v, want [a b]", err.Details["agents"])
	}

	bare := NewInvariantViolation("below minimum")
	if _, ok := bare.Details["agents"]; ok {
		t.Error("Details[agents] should be absent when no agents given")
	}
}

func TestNewPaymentFailed(t *testing.T) {
	err := NewPaymentFailed("retries exhausted", "pay-1")

	if err.Code != ErrPaymentFailed {
		t.Errorf("Code = %q, want %q", err.Code, ErrPaymentFailed)
	}
	if err.Status != 402 {
		t.Errorf("Status = %d, want 402", err.Status)
	}
	if err.Details["payment_id"] != "pay-1" {
		t.Errorf("Details[payment_id] = %v, want %q", err.Details["payment_id"], "pay-1")
	}
}

func TestNewCollaboratorUnavailable(t *testing.T) {
	err := NewCollaboratorUnavailable("signer", fmt.Errorf("no wallet"))

	if err.Code != ErrCollaboratorUnavailable {
		t.Errorf("Code = %q, want %q", err.Code, ErrCollaboratorUnavailable)
	}
	if err.Status != 503 {
		t.Errorf("Status = %d, want 503", err.Status)
	}
	if err.Message != "signer unavailable" {
		t.Errorf("Message = %q, want %q", err.Message, "signer unavailable")
	}
	if err.Details["cause"] != "no wallet" {
		t.Errorf("Details[cause] = %v, want %q", err.Details["cause"], "no wallet")
	}
}

func TestNewTransientNetwork(t *testing.T) {
	err := NewTransientNetwork(fmt.Errorf("connection reset"))
	if err.Message != "connection reset" {
		t.Errorf("Message = %q, want %q", err.Message, "connection reset")
	}

	err = NewTransientNetwork(nil)
	if err.Message != "transient network error" {
		t.Errorf("Message = %q, want %q", err.Message, "transient network error")
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		originalErr := fmt.Errorf("database connection failed")
		err := NewInternal(originalErr)

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewNotFound("x"), ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewNotFound("x"), ErrConflict) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if Is(fmt.Errorf("plain error"), ErrNotFound) {
			t.Error("Is() = true, want false for non-PaperclipError")
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("coalition: %w", NewInvariantViolation("double membership"))
		if !Is(wrapped, ErrInvariantViolation) {
			t.Error("Is() = false, want true for wrapped PaperclipError")
		}
	})
}
