// Package apperr defines the two error classes the client distinguishes: local validation
// failures that never reach the network, and transport failures reported by the backend.
package apperr

import (
	"errors"
	"fmt"
)

// GenericFailure is shown when a failed backend call carried no detail message.
const GenericFailure = "Sorry, there was an error processing your request."

// ValidationError is a local input error.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the user-facing message.
func (e *ValidationError) Error() string {
	return e.Message
}

// Validation creates a ValidationError.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransportError is a failed backend call: a network failure or a non-2xx response.
type TransportError struct {
	Op         string // operation name, e.g. "chat"
	StatusCode int    // 0 for network failures
	Detail     string // backend-provided detail, when present
	Err        error
}

// Error returns a formatted message: [op] detail or the wrapped error.
func (e *TransportError) Error() string {
	switch {
	case e.Detail != "" && e.StatusCode != 0:
		return fmt.Sprintf("[%s] %d: %s", e.Op, e.StatusCode, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("[%s] %s", e.Op, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("[%s] request failed with status %d", e.Op, e.StatusCode)
	}
}

// Unwrap supports errors.Is/errors.As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// UserMessage returns the text shown to the user for err: the validation message, the
// backend's detail, or fallback when neither is available.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Message
	}
	var t *TransportError
	if errors.As(err, &t) && t.Detail != "" {
		return t.Detail
	}
	return fallback
}
