package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/logging"
	"github.com/chain-registry/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// Response is the envelope of every successful JSON response
type Response struct {
	Meta   interface{} `json:"meta"`
	Result interface{} `json:"result"`
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// internalErrorMessage hides system failures from clients
const internalErrorMessage = "internal service error"

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondServiceError maps a service error onto a response. Client errors
// echo their message; anything else is logged and answered generically.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapServiceError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
	}
	respondError(w, status, code, message, nil)
}

// mapServiceError maps service errors to HTTP status codes.
func mapServiceError(err error) (int, string, string) {
	catErr := apperrors.Categorize(err)
	switch {
	case catErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound, ErrCodeNotFound, catErr.Message
	case catErr.StatusCode == http.StatusBadRequest:
		return http.StatusBadRequest, ErrCodeInvalidInput, catErr.Message
	default:
		return http.StatusInternalServerError, ErrCodeInternalError, internalErrorMessage
	}
}
