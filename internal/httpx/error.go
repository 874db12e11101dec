package httpx

import (
	"net/http"

	"github.com/circularops/api/internal/middleware"
)

type ErrorEnvelope struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"requestId"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	WriteJSON(w, status, ErrorEnvelope{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
}

func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusBadRequest, "validation_error", message, nil)
}

func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusNotFound, "not_found", message, nil)
}

func Internal(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusInternalServerError, "internal_error", message, nil)
}

// Conflict reports a duplicate natural key or a lost write race.
func Conflict(w http.ResponseWriter, r *http.Request, code, message string) {
	WriteError(w, r, http.StatusConflict, code, message, nil)
}

// InvalidTransition reports a workflow step that is not allowed from status.
func InvalidTransition(w http.ResponseWriter, r *http.Request, message, status string) {
	WriteError(w, r, http.StatusConflict, "invalid_transition", message, map[string]any{"status": status})
}

// ReferenceNotFound reports a natural key or id in the request body that does not resolve.
func ReferenceNotFound(w http.ResponseWriter, r *http.Request, message string, details map[string]any) {
	WriteError(w, r, http.StatusUnprocessableEntity, "reference_not_found", message, details)
}
