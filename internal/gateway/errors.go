package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mordwell/wicket/internal/authapi"
	"github.com/mordwell/wicket/internal/session"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// writeAuthError maps a session or identity service failure onto an HTTP
// status and the standard error envelope. The identity service's code,
// message, and details pass through verbatim; anything unrecognized becomes
// a generic upstream failure.
func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSuperseded) {
		writeError(w, http.StatusConflict, "superseded", "another sign-in or sign-out completed first")
		return
	}
	if errors.Is(err, session.ErrNotAuthenticated) {
		writeError(w, http.StatusUnauthorized, authapi.CodeUnauthorized, "not authenticated")
		return
	}

	var apiErr *authapi.Error
	if !errors.As(err, &apiErr) {
		writeError(w, http.StatusBadGateway, authapi.CodeUnknown, authapi.GenericMessage)
		return
	}

	status := http.StatusBadGateway
	switch apiErr.Code {
	case authapi.CodeInvalidCredentials, authapi.CodeUnauthorized:
		status = http.StatusUnauthorized
	case authapi.CodeValidationError:
		status = http.StatusUnprocessableEntity
	case authapi.CodeMultipleOrganizations:
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		},
	})
}
