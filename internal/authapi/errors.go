package authapi

import "fmt"

// Error codes returned by the identity service that callers are expected to
// branch on. Anything else is surfaced as CodeUnknown.
const (
	CodeInvalidCredentials    = "invalid_credentials"
	CodeMultipleOrganizations = "multiple_organizations"
	CodeValidationError       = "validation_error"
	CodeUnauthorized          = "unauthorized"
	CodeUnknown               = "unknown_error"
)

// GenericMessage is shown to end users when the real cause must not leak
// (network failures, malformed responses, unexpected server errors).
const GenericMessage = "Something went wrong. Please try again."

// Error is a machine-readable authentication failure. Code is one of the
// constants above, Message is safe to show to end users, and Details carries
// the backend payload verbatim (field validation errors, organization
// candidates for multiple_organizations, ...).
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	// Status is the HTTP status the backend responded with, 0 when the
	// request never produced a response.
	Status int `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("authapi: %s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("authapi: %s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying transport error, if any, for logging.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match on the code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// FieldErrors extracts per-field validation messages from Details. Keys are
// field names, values the message for that field. Returns nil when the error
// carries no field-level detail.
func (e *Error) FieldErrors() map[string]string {
	if len(e.Details) == 0 {
		return nil
	}
	fields := make(map[string]string)
	for k, v := range e.Details {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case []any:
			if len(val) > 0 {
				if s, ok := val[0].(string); ok {
					fields[k] = s
				}
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// wrapTransport converts a transport-level failure into a generic Error. The
// original error is retained for logs but never shown to users.
func wrapTransport(err error) *Error {
	return &Error{
		Code:    CodeUnknown,
		Message: GenericMessage,
		cause:   err,
	}
}
