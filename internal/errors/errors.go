// Package errors defines the structured API error responses the HTTP layer
// renders, and the mapping from operation lifecycle errors onto them.
package errors

import (
	"net/http"

	"github.com/go-chi/render"

	"quantlab/internal/operations"
)

// APIError is a structured API error response
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details any) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined errors for common scenarios
var (
	ErrInvalidRequest = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrNotFound       = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// InvalidRequestWithError creates an invalid request error carrying the
// binding failure detail
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// FromOperations translates a lifecycle core error into its API
// representation. Each error kind keeps a distinct, stable error code so
// clients can tell them apart.
func FromOperations(err error) *APIError {
	switch operations.KindOf(err) {
	case operations.KindNotFound:
		return NewWithDetails(http.StatusNotFound, "OPERATION_NOT_FOUND",
			"Operation not found", err.Error())
	case operations.KindInvalidTransition:
		return NewWithDetails(http.StatusConflict, "INVALID_TRANSITION",
			"Operation state does not permit this action", err.Error())
	case operations.KindNotReady:
		return NewWithDetails(http.StatusConflict, "RESULTS_NOT_READY",
			"Operation has not finished yet", err.Error())
	case operations.KindConnectivity:
		return NewWithDetails(http.StatusBadGateway, "EXECUTOR_UNREACHABLE",
			"Remote executor could not be reached", err.Error())
	}
	return NewWithDetails(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR",
		"Internal server error", err.Error())
}
