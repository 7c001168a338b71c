package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mordwell/wicket/internal/audit"
	"github.com/mordwell/wicket/internal/session"
	"github.com/mordwell/wicket/internal/tokenstore"
)

// DefaultIdleTimeout is how long an untouched client manager is kept before
// the janitor evicts it. Eviction drops only the in-memory manager, never
// the stored tokens, so the next request rehydrates transparently.
const DefaultIdleTimeout = 30 * time.Minute

// Registry hands out one session manager per browser client, identified by
// an opaque cookie. Managers are created lazily and evicted after idling.
type Registry struct {
	backend      session.Backend
	store        tokenstore.Store
	opts         session.Options
	cookieName   string
	cookieSecure bool
	idleTimeout  time.Duration
	log          *slog.Logger
	auditor      AuditRecorder

	// onChange, when set, observes every state transition of every managed
	// client (active-session gauges, logging).
	onChange func(clientID string, snap session.Snapshot)

	mu      sync.Mutex
	clients map[string]*clientEntry
	done    chan struct{}
}

type clientEntry struct {
	manager  *session.Manager
	lastSeen time.Time
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Backend      session.Backend
	Store        tokenstore.Store
	Session      session.Options
	CookieName   string
	CookieSecure bool
	IdleTimeout  time.Duration
	Logger       *slog.Logger
	Auditor      AuditRecorder
	OnChange     func(clientID string, snap session.Snapshot)
}

// NewRegistry creates a client registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		backend:      cfg.Backend,
		store:        cfg.Store,
		opts:         cfg.Session,
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
		idleTimeout:  cfg.IdleTimeout,
		log:          cfg.Logger,
		auditor:      cfg.Auditor,
		onChange:     cfg.OnChange,
		clients:      make(map[string]*clientEntry),
		done:         make(chan struct{}),
	}
}

// Ensure resolves the client behind a request, issuing an identity cookie on
// first sight and initializing the session manager from stored tokens. The
// returned manager is ready to answer Snapshot immediately.
func (g *Registry) Ensure(w http.ResponseWriter, r *http.Request) (string, *session.Manager) {
	clientID := ""
	if c, err := r.Cookie(g.cookieName); err == nil && c.Value != "" {
		if _, err := uuid.Parse(c.Value); err == nil {
			clientID = c.Value
		}
	}
	if clientID == "" {
		clientID = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     g.cookieName,
			Value:    clientID,
			Path:     "/",
			HttpOnly: true,
			Secure:   g.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	return clientID, g.manager(r.Context(), clientID)
}

// Lookup returns the manager for a known client id, or nil when the client
// has never been seen and holds no stored tokens.
func (g *Registry) Lookup(ctx context.Context, clientID string) *session.Manager {
	if _, err := uuid.Parse(clientID); err != nil {
		return nil
	}
	return g.manager(ctx, clientID)
}

// manager returns the live manager for clientID, creating and initializing
// it when absent. Initialization happens outside the registry lock; the
// manager's own state machine serializes concurrent first requests.
func (g *Registry) manager(ctx context.Context, clientID string) *session.Manager {
	g.mu.Lock()
	entry, ok := g.clients[clientID]
	if ok {
		entry.lastSeen = time.Now()
		g.mu.Unlock()
		return entry.manager
	}

	opts := g.opts
	opts.Logger = g.log.With("client_id", clientID)
	m := session.NewManager(g.backend, tokenstore.Bind(g.store, clientID), opts)
	if g.onChange != nil {
		onChange := g.onChange
		m.OnChange(func(snap session.Snapshot) {
			onChange(clientID, snap)
		})
	}
	g.clients[clientID] = &clientEntry{manager: m, lastSeen: time.Now()}
	g.mu.Unlock()

	snap := m.Initialize(ctx)
	if g.auditor != nil && snap.State == session.StateAuthenticated {
		// A session restored from the token store, not a fresh sign-in.
		g.auditor.Record(audit.Event{
			ClientID:  clientID,
			UserID:    snap.Session.UserID,
			Email:     snap.Session.Email,
			Operation: audit.OpInitialize,
			Outcome:   audit.OutcomeSuccess,
		})
	}
	return m
}

// Start runs the idle-eviction janitor until Stop is called or the context
// is cancelled.
func (g *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(g.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.evictIdle()
		case <-ctx.Done():
			return
		case <-g.done:
			return
		}
	}
}

// Stop signals the janitor to exit.
func (g *Registry) Stop() {
	close(g.done)
}

// Len reports how many client managers are currently held.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

func (g *Registry) evictIdle() {
	cutoff := time.Now().Add(-g.idleTimeout)

	g.mu.Lock()
	var evicted int
	for id, entry := range g.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(g.clients, id)
			evicted++
		}
	}
	g.mu.Unlock()

	if evicted > 0 {
		g.log.Debug("evicted idle client managers", "count", evicted)
	}
}
