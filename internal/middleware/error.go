package middleware

import (
	"encoding/json"
	"net/http"
)

// Codes match the snake_case codes the handlers put in their envelopes.
const (
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeCSRFInvalid  = "csrf_invalid"
	codeRateLimited  = "rate_limited"
	codeInternal     = "internal_error"
)

type errorEnvelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"requestId"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error:     errorBody{Code: code, Message: message, Details: details},
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusUnauthorized, codeUnauthorized, message, nil)
}
