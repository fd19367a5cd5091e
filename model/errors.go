package model

import (
	"errors"
	"fmt"
)

// Error codes. Each maps to one HTTP status at the transport boundary.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"

	// List view failures. Both are retryable; neither is fatal to the view.
	ErrFetchFailed    = "FETCH_FAILED"
	ErrMutationFailed = "MUTATION_FAILED"
)

// ErrorEnvelope is the error body returned to clients. It implements error
// so it can travel through ordinary error returns and be recovered with
// errors.As.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the code of the envelope wrapped by err, or "" when there
// is none.
func CodeOf(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

func envelope(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}

func NewBadRequestError(msg string) *ErrorEnvelope   { return envelope(ErrBadRequest, msg) }
func NewUnauthorizedError(msg string) *ErrorEnvelope { return envelope(ErrUnauthorized, msg) }
func NewForbiddenError(msg string) *ErrorEnvelope    { return envelope(ErrForbidden, msg) }
func NewNotFoundError(msg string) *ErrorEnvelope     { return envelope(ErrNotFound, msg) }
func NewConflictError(msg string) *ErrorEnvelope     { return envelope(ErrConflict, msg) }

// NewValidationError reports field-level problems with a request or patch.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	e := envelope(ErrValidationError, "One or more fields are invalid")
	e.Details = details
	return e
}

// NewInternalError is the catch-all for failures whose details must not
// reach the client.
func NewInternalError() *ErrorEnvelope {
	return envelope(ErrInternalError, "An unexpected error occurred")
}

func NewBackendUnavailableError() *ErrorEnvelope {
	return envelope(ErrBackendUnavailable, "The backend service is temporarily unavailable")
}

func NewBackendTimeoutError() *ErrorEnvelope {
	return envelope(ErrBackendTimeout, "The backend service did not respond in time")
}

func NewRateLimitedError() *ErrorEnvelope {
	return envelope(ErrRateLimited, "Too many requests to the backend. Try again shortly.")
}

// NewFetchFailedError reports a list whose source could not be read. The
// previous snapshot, if any, is still shown.
func NewFetchFailedError(listID string) *ErrorEnvelope {
	return envelope(ErrFetchFailed, fmt.Sprintf("Could not load %s. Try again.", listID))
}

// NewMutationFailedError reports a rejected change. Local changes have been
// rolled back and the selection is kept.
func NewMutationFailedError(action string) *ErrorEnvelope {
	return envelope(ErrMutationFailed, fmt.Sprintf("%s failed. Your selection was kept so you can retry.", action))
}
