package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mordwell/wicket/internal/config"
	"github.com/mordwell/wicket/internal/guard"
	"github.com/mordwell/wicket/internal/metrics"
	"github.com/mordwell/wicket/internal/ratelimit"
	"github.com/mordwell/wicket/internal/session"
)

// RouterDeps holds all dependencies for the gateway router.
type RouterDeps struct {
	Registry    *Registry
	Proxy       *Proxy
	Auditor     AuditRecorder
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	Routes      []config.RouteRule
	CORSOrigins []string
	Placeholder http.Handler
	Logger      *slog.Logger
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	if len(deps.CORSOrigins) > 0 {
		r.Use(corsMiddleware(deps.CORSOrigins))
	}
	r.Use(slogRequestLogger(log))

	auth := newAuthHandler(deps.Auditor, deps.Metrics)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler())
	}

	// Session endpoints. Every request resolves its client first.
	r.Route("/auth", func(ar chi.Router) {
		ar.Use(metricsMiddleware(deps.Metrics, "auth"))
		ar.Use(deps.Registry.clientMiddleware)

		// Credential endpoints are rate limited per client IP.
		ar.Group(func(cr chi.Router) {
			if deps.Limiter != nil && deps.Limiter.Enabled() {
				onReject := func() {}
				if deps.Metrics != nil {
					onReject = func() { deps.Metrics.IncRateLimitRejection("login") }
				}
				cr.Use(ratelimit.Middleware(deps.Limiter, onReject))
			}
			cr.Post("/login", auth.Login)
			cr.Post("/register", auth.Register)
		})

		ar.Post("/logout", auth.Logout)
		ar.Post("/refresh", auth.Refresh)
		ar.Get("/session", auth.Session)
	})

	// Everything else is guarded and proxied to the upstream application.
	guarded := chi.Chain(
		metricsMiddleware(deps.Metrics, "proxied"),
		deps.Registry.clientMiddleware,
	).Handler(guardedProxy(deps))
	r.NotFound(guarded.ServeHTTP)

	return r
}

// guardedProxy wires the configured route rules in front of the upstream
// proxy. Each rule's guard is built once; per request the first rule whose
// prefix matches the path decides.
func guardedProxy(deps RouterDeps) http.Handler {
	var observers []guard.Observer
	if deps.Metrics != nil {
		observers = append(observers, func(name string, d guard.Decision) {
			deps.Metrics.IncGuardDecision(name, d.Action.String())
		})
	}

	type compiled struct {
		prefix  string
		handler http.Handler
	}

	rules := make([]compiled, 0, len(deps.Routes))
	for _, rule := range deps.Routes {
		var h http.Handler = deps.Proxy
		switch rule.Access {
		case "required":
			h = guard.RequireSession(guard.Config{
				RequiredRole: session.Role(rule.Role),
				FallbackPath: rule.FallbackPath,
				ShowLoading:  rule.ShowLoading,
			}, deps.Placeholder, observers...)(deps.Proxy)
		case "anonymous":
			h = guard.RequireAnonymous(guard.AnonymousConfig{
				RedirectPath: rule.RedirectPath,
				ShowLoading:  rule.ShowLoading,
			}, deps.Placeholder, observers...)(deps.Proxy)
		}
		rules = append(rules, compiled{prefix: rule.Prefix, handler: h})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, rule := range rules {
			if prefixMatch(r.URL.Path, rule.prefix) {
				rule.handler.ServeHTTP(w, r)
				return
			}
		}
		// No rule matched: pass through unguarded.
		deps.Proxy.ServeHTTP(w, r)
	})
}

// prefixMatch reports whether path falls under prefix on a path-segment
// boundary, so /login does not capture /login2.
func prefixMatch(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
