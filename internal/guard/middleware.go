package guard

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mordwell/wicket/internal/session"
)

type contextKey int

const snapshotContextKey contextKey = iota

// ContextWithSnapshot returns a new context carrying the client's session
// snapshot. The gateway's client middleware sets it before any guard runs.
func ContextWithSnapshot(ctx context.Context, snap session.Snapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey, snap)
}

// SnapshotFromContext extracts the snapshot from the context. A missing
// snapshot reads as StateUnknown so an unwired route never exposes content.
func SnapshotFromContext(ctx context.Context) session.Snapshot {
	snap, ok := ctx.Value(snapshotContextKey).(session.Snapshot)
	if !ok {
		return session.Snapshot{State: session.StateUnknown}
	}
	return snap
}

// Observer is notified of every guard decision (metrics, logging).
type Observer func(guard string, d Decision)

// RequireSession returns middleware that serves the wrapped handler only
// for authenticated clients meeting cfg, redirecting everyone else.
// placeholder, when non-nil, renders the loading state; observers see every
// decision.
func RequireSession(cfg Config, placeholder http.Handler, observers ...Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Evaluate(SnapshotFromContext(r.Context()), cfg)
			for _, o := range observers {
				o("require_session", d)
			}
			apply(w, r, d, next, placeholder)
		})
	}
}

// RequireAnonymous returns middleware for public-only pages (login,
// registration): clients that already hold a session are redirected away.
func RequireAnonymous(cfg AnonymousConfig, placeholder http.Handler, observers ...Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := EvaluateAnonymous(SnapshotFromContext(r.Context()), cfg)
			for _, o := range observers {
				o("require_anonymous", d)
			}
			apply(w, r, d, next, placeholder)
		})
	}
}

// apply turns a Decision into a response.
func apply(w http.ResponseWriter, r *http.Request, d Decision, next, placeholder http.Handler) {
	switch d.Action {
	case ActionServe:
		next.ServeHTTP(w, r)
	case ActionRedirect:
		http.Redirect(w, r, d.Location, http.StatusFound)
	case ActionPlaceholder:
		if placeholder != nil {
			placeholder.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "initializing"})
	case ActionNothing:
		w.WriteHeader(http.StatusNoContent)
	}
}
