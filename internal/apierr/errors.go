// Package apierr provides a consistent JSON error envelope for the API.
package apierr

import (
	"encoding/json"
	"net/http"

	"github.com/graphpulse/forcemap/internal/logger"
)

// Code identifies a class of API error.
type Code string

const (
	CodeBadRequest  Code = "bad_request"
	CodeNotFound    Code = "not_found"
	CodeTooLarge    Code = "too_large"
	CodeRateLimited Code = "rate_limited"
	CodeInternal    Code = "internal_error"
	CodeUnavailable Code = "unavailable"
)

// Error is the JSON body returned for every failed request.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func status(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Write sends the error envelope with the status implied by its code.
func Write(w http.ResponseWriter, r *http.Request, code Code, message string) {
	reqID, _ := r.Context().Value(logger.RequestIDKey).(string)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status(code))
	if err := json.NewEncoder(w).Encode(Error{Code: code, Message: message, RequestID: reqID}); err != nil {
		logger.ErrorContext(r.Context(), "failed to encode error response", "error", err)
	}
}

// BadRequest is shorthand for a 400 envelope.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	Write(w, r, CodeBadRequest, message)
}

// Internal is shorthand for a 500 envelope. Callers log the real error; the
// message here is the generic client-facing text.
func Internal(w http.ResponseWriter, r *http.Request, message string) {
	Write(w, r, CodeInternal, message)
}
