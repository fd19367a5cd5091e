// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the list API.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/vendordesk/internal/observability"
	"github.com/pitabwire/vendordesk/model"
)

// retryAfterSeconds is advertised on failures the client should retry.
const retryAfterSeconds = "2"

// statusFor maps an ErrorEnvelope code to its HTTP status and whether the
// failure is transient.
func statusFor(code string) (status int, retryable bool) {
	switch code {
	case model.ErrBadRequest:
		return http.StatusBadRequest, false
	case model.ErrUnauthorized:
		return http.StatusUnauthorized, false
	case model.ErrForbidden:
		return http.StatusForbidden, false
	case model.ErrNotFound:
		return http.StatusNotFound, false
	case model.ErrConflict:
		return http.StatusConflict, false
	case model.ErrValidationError:
		return http.StatusUnprocessableEntity, false
	case model.ErrRateLimited:
		return http.StatusTooManyRequests, true
	case model.ErrBackendUnavailable, model.ErrFetchFailed, model.ErrMutationFailed:
		return http.StatusBadGateway, true
	case model.ErrBackendTimeout:
		return http.StatusGatewayTimeout, true
	default:
		return http.StatusInternalServerError, false
	}
}

// WriteJSON writes body as JSON. View state is per user, so responses are
// never cached.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as {"error": envelope} stamped with the request's
// trace id. Errors that do not wrap an *ErrorEnvelope become a generic 500
// so internals never leak.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var found *model.ErrorEnvelope
	if !errors.As(err, &found) {
		found = model.NewInternalError()
	}
	ee := *found
	if ee.TraceID == "" && r != nil {
		ee.TraceID = observability.TraceIDFromContext(r.Context())
	}

	status, retryable := statusFor(ee.Code)
	if retryable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	WriteJSON(w, status, struct {
		Error *model.ErrorEnvelope `json:"error"`
	}{&ee})
}
