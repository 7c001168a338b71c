package session

import (
	"time"

	"github.com/mordwell/wicket/internal/authapi"
)

// State is the position of a client in the authentication state machine.
type State int

const (
	// StateUnknown means Initialize has not completed yet.
	StateUnknown State = iota
	// StateAnonymous means no valid session is held.
	StateAnonymous
	// StateAuthenticated means a session and token pair are held.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "invalid"
	}
}

// Session is the in-memory authenticated identity. It is built atomically
// from a single identity response and exists only while a valid token pair
// is held.
type Session struct {
	UserID    string     `json:"user_id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	IsActive  bool       `json:"is_active"`
	Role      Role       `json:"role"`
	JoinedAt  time.Time  `json:"joined_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	OrganizationID   string `json:"organization_id"`
	OrganizationName string `json:"organization_name"`
	OrganizationSlug string `json:"organization_slug"`
}

// DisplayName returns "First Last", falling back to the email address when
// both name fields are empty.
func (s *Session) DisplayName() string {
	switch {
	case s.FirstName != "" && s.LastName != "":
		return s.FirstName + " " + s.LastName
	case s.FirstName != "":
		return s.FirstName
	case s.LastName != "":
		return s.LastName
	default:
		return s.Email
	}
}

// Snapshot is an atomic read of the state machine. Session is nil unless
// State is StateAuthenticated; consumers must treat it as read-only.
type Snapshot struct {
	State   State    `json:"state"`
	Session *Session `json:"session,omitempty"`
}

// fromProfile builds a Session from one identity response.
func fromProfile(p *authapi.UserProfile) *Session {
	return &Session{
		UserID:           p.ID,
		Email:            p.Email,
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		IsActive:         p.IsActive,
		Role:             Role(p.OrganizationMembership.Role),
		JoinedAt:         p.OrganizationMembership.JoinedAt,
		LastLogin:        p.LastLogin,
		CreatedAt:        p.CreatedAt,
		OrganizationID:   p.Organization.ID,
		OrganizationName: p.Organization.Name,
		OrganizationSlug: p.Organization.Slug,
	}
}
