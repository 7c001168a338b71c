// Package audit records authentication events. Events are buffered in memory
// and flushed in batches so a slow sink never sits on the login path.
package audit

import "time"

// Operations recorded in the trail.
const (
	OpInitialize = "initialize"
	OpLogin      = "login"
	OpRegister   = "register"
	OpLogout     = "logout"
	OpRefresh    = "refresh"
)

// Outcomes recorded in the trail.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeSuperseded = "superseded"
)

// Event is one authentication event.
type Event struct {
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Operation string    `json:"operation"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code,omitempty"` // error code on failure
	IP        string    `json:"ip,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
