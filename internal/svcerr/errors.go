// Package svcerr defines the error kinds shared by services, the store,
// and provider adapters (spec.md 7). The HTTP layer and the MCP
// dispatcher both translate these via errors.Is/errors.As rather than
// inspecting error strings.
package svcerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing identifier. HTTP: 404.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a uniqueness or state-machine violation. HTTP: 409.
	ErrConflict = errors.New("conflict")
	// ErrGone signals the target entity is cancelled/expired. HTTP: 410.
	ErrGone = errors.New("gone")
	// ErrBadRequest signals invalid caller input. HTTP: 400.
	ErrBadRequest = errors.New("bad request")
	// ErrNotConfigured signals a provider adapter missing required credentials.
	// Not an error for batch sync — the adapter is simply skipped.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrAuthentication signals an upstream rejected the adapter's credentials.
	ErrAuthentication = errors.New("authentication failed")
	// ErrRateLimited signals an upstream 429 / rate-limit error code.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError wraps a single field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// NewValidationError constructs a *ValidationError as an error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
