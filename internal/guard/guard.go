// Package guard decides whether a request may see protected content based on
// the client's session snapshot. The decision is computed as a pure function
// of the snapshot; redirects are emitted only as response side effects so the
// state machine stays testable without HTTP.
package guard

import (
	"github.com/mordwell/wicket/internal/session"
)

// DefaultUnauthorizedPath is where authenticated clients with an
// insufficient role are sent.
const DefaultUnauthorizedPath = "/unauthorized"

// Action is the outcome of evaluating a guard.
type Action int

const (
	// ActionServe renders the guarded content.
	ActionServe Action = iota
	// ActionRedirect sends the client elsewhere and renders nothing.
	ActionRedirect
	// ActionPlaceholder renders a loading placeholder while the session
	// state is still unknown.
	ActionPlaceholder
	// ActionNothing renders nothing (state unknown, placeholder disabled).
	ActionNothing
)

func (a Action) String() string {
	switch a {
	case ActionServe:
		return "serve"
	case ActionRedirect:
		return "redirect"
	case ActionPlaceholder:
		return "placeholder"
	case ActionNothing:
		return "nothing"
	default:
		return "invalid"
	}
}

// Decision pairs an Action with its redirect target, when applicable.
type Decision struct {
	Action   Action
	Location string
}

// Config configures a require-session guard.
type Config struct {
	// RequiredRole, when set, is the minimum role to see the content.
	RequiredRole session.Role
	// FallbackPath receives anonymous clients.
	FallbackPath string
	// UnauthorizedPath receives authenticated clients below RequiredRole.
	// Defaults to DefaultUnauthorizedPath.
	UnauthorizedPath string
	// ShowLoading renders a placeholder while the state is unknown.
	ShowLoading bool
}

// AnonymousConfig configures a require-anonymous guard (login and
// registration pages).
type AnonymousConfig struct {
	// RedirectPath receives clients that already hold a session.
	RedirectPath string
	// ShowLoading renders a placeholder while the state is unknown.
	ShowLoading bool
}

// Evaluate decides what a require-session guard does for the given
// snapshot. It never errors; unauthenticated and under-privileged clients
// are redirected.
func Evaluate(snap session.Snapshot, cfg Config) Decision {
	switch snap.State {
	case session.StateUnknown:
		if cfg.ShowLoading {
			return Decision{Action: ActionPlaceholder}
		}
		return Decision{Action: ActionNothing}
	case session.StateAnonymous:
		return Decision{Action: ActionRedirect, Location: cfg.FallbackPath}
	}

	if cfg.RequiredRole != "" && (snap.Session == nil || !snap.Session.Role.AtLeast(cfg.RequiredRole)) {
		loc := cfg.UnauthorizedPath
		if loc == "" {
			loc = DefaultUnauthorizedPath
		}
		return Decision{Action: ActionRedirect, Location: loc}
	}
	return Decision{Action: ActionServe}
}

// EvaluateAnonymous decides what a require-anonymous guard does for the
// given snapshot.
func EvaluateAnonymous(snap session.Snapshot, cfg AnonymousConfig) Decision {
	switch snap.State {
	case session.StateUnknown:
		if cfg.ShowLoading {
			return Decision{Action: ActionPlaceholder}
		}
		return Decision{Action: ActionNothing}
	case session.StateAuthenticated:
		return Decision{Action: ActionRedirect, Location: cfg.RedirectPath}
	default:
		return Decision{Action: ActionServe}
	}
}
