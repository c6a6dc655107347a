package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized error envelope returned to clients:
// {"error_kind": "...", "message": "..."} with optional details.
type ErrorResponse struct {
	Kind    ErrorCode              `json:"error_kind"`        // Machine-readable error kind
	Message string                 `json:"message"`           // Human-readable error message
	Details map[string]interface{} `json:"details,omitempty"` // Optional context (session_id, etc.)
}

// NewErrorResponse creates a standardized error response.
func NewErrorResponse(code ErrorCode, message string, details map[string]interface{}) ErrorResponse {
	return ErrorResponse{
		Kind:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON writes the error response as JSON to the HTTP response writer.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	status := e.Kind.HTTPStatus()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}

// WriteError is a convenience function to write an error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]interface{}) {
	resp := NewErrorResponse(code, message, details)
	resp.WriteJSON(w)
}

// WriteSimpleError writes an error with no additional details.
func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	WriteError(w, code, message, nil)
}

// WriteErrorWithDetail writes an error with a single detail field.
func WriteErrorWithDetail(w http.ResponseWriter, code ErrorCode, message string, key string, value interface{}) {
	WriteError(w, code, message, map[string]interface{}{key: value})
}

// WriteFromErr maps an error to the wire envelope. Typed *Error values keep
// their kind; everything else is surfaced as INTERNAL without leaking the
// underlying error text.
func WriteFromErr(w http.ResponseWriter, err error) {
	if e, ok := AsError(err); ok {
		WriteError(w, e.Kind, e.Message, e.Details)
		return
	}
	WriteSimpleError(w, ErrCodeInternal, "internal error")
}
