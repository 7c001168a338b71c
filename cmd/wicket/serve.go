package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mordwell/wicket/internal/audit"
	"github.com/mordwell/wicket/internal/authapi"
	"github.com/mordwell/wicket/internal/config"
	"github.com/mordwell/wicket/internal/crypto"
	"github.com/mordwell/wicket/internal/gateway"
	"github.com/mordwell/wicket/internal/metrics"
	"github.com/mordwell/wicket/internal/ratelimit"
	"github.com/mordwell/wicket/internal/session"
	"github.com/mordwell/wicket/internal/tokenstore"
	"github.com/mordwell/wicket/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Wicket gateway server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cipher, err := crypto.NewCipher(cfg.Encryption.Key)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}

	m := metrics.New()

	store, pool, err := buildStore(ctx, cfg, cipher)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
			s := pool.Stat()
			return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
		})
	}

	var sink audit.BatchInserter = audit.LogSink{}
	if pool != nil {
		sink = audit.NewStore(pool)
	}
	collector := audit.NewCollector(sink, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	collector.SetHooks(audit.Hooks{
		Event:      func() { m.CollectorEventsTotal.Inc() },
		BufferSize: func(n int) { m.CollectorBufferSize.Set(float64(n)) },
		Flush: func(ok bool) {
			status := "success"
			if !ok {
				status = "error"
			}
			m.CollectorFlushesTotal.WithLabelValues(status).Inc()
		},
	})
	go collector.Start(ctx)

	backend := authapi.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)

	registry := gateway.NewRegistry(gateway.RegistryConfig{
		Backend: backend,
		Store:   store,
		Session: session.Options{
			RefreshLeeway:   cfg.Session.RefreshLeeway,
			RefetchIdentity: cfg.Session.RefetchIdentity,
			Logger:          logger,
			OnSharedRefresh: m.RefreshSharedTotal.Inc,
		},
		CookieName:   cfg.Gateway.CookieName,
		CookieSecure: cfg.Gateway.CookieSecure,
		IdleTimeout:  cfg.Gateway.ClientIdleTimeout,
		Logger:       logger,
		Auditor:      collector,
		OnChange:     activeSessionTracker(m),
	})
	go registry.Start(ctx)

	proxy, err := gateway.NewProxy(cfg.Gateway.Upstream, cfg.Gateway.ProxyTimeout, cfg.Gateway.MaxRequestSize)
	if err != nil {
		return fmt.Errorf("upstream url: %w", err)
	}
	proxy.SetMetrics(m)

	limiter := ratelimit.New(cfg.RateLimit.LoginAttempts, cfg.RateLimit.Window)

	router := gateway.NewRouter(gateway.RouterDeps{
		Registry:    registry,
		Proxy:       proxy,
		Auditor:     collector,
		Limiter:     limiter,
		Metrics:     m,
		Routes:      cfg.Gateway.Routes,
		CORSOrigins: cfg.CORS.AllowedOrigins,
		Placeholder: ui.Placeholder(),
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "upstream", cfg.Gateway.Upstream)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	collector.Stop()
	registry.Stop()

	return srv.Shutdown(shutdownCtx)
}

// activeSessionTracker keeps the active session gauge in step with per-client
// state transitions. Only the authenticated/not-authenticated edge moves the
// gauge, so the initial anonymous settle of a fresh client is a no-op.
func activeSessionTracker(m *metrics.Metrics) func(string, session.Snapshot) {
	var mu sync.Mutex
	authed := make(map[string]bool)
	return func(clientID string, snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		is := snap.State == session.StateAuthenticated
		switch {
		case is && !authed[clientID]:
			authed[clientID] = true
			m.ActiveSessions.Inc()
		case !is && authed[clientID]:
			delete(authed, clientID)
			m.ActiveSessions.Dec()
		}
	}
}

// buildStore constructs the configured token store. The pool return is
// non-nil only for the postgres store; it also backs the audit trail.
func buildStore(ctx context.Context, cfg *config.Config, cipher *crypto.Cipher) (tokenstore.Store, *pgxpool.Pool, error) {
	switch cfg.Store.Kind {
	case "file":
		s, err := tokenstore.NewFile(cfg.Store.Path, cipher)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("connected to database")
		return tokenstore.NewPostgres(pool, cipher), pool, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		slog.Info("connected to redis", "addr", cfg.Store.Redis.Addr)
		return tokenstore.NewRedis(client, cipher, cfg.Store.Redis.KeyPrefix, cfg.Store.Redis.TTL), nil, nil
	case "memory":
		return tokenstore.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}
