package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrOriginNotAllowed = errors.New("origin not allow-listed")
	ErrIdentityMismatch = errors.New("asset identity mismatch")
	ErrMalformedBody    = errors.New("malformed request body")
	ErrUpstreamFailure  = errors.New("upstream returned non-2xx response")
)

type jsonError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSONError writes the standard {error, message} envelope.
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := jsonError{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	_ = json.NewEncoder(w).Encode(body)
}

// WriteJSON writes an arbitrary structured body, used by rejections that
// carry detail fields (safety categories, identity detail).
func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
