package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected default read timeout 30s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Store.Kind != "file" {
		t.Errorf("expected default store kind file, got %s", cfg.Store.Kind)
	}
	if cfg.Gateway.CookieName != "wicket_sid" {
		t.Errorf("expected default cookie wicket_sid, got %s", cfg.Gateway.CookieName)
	}
	if cfg.Session.RefreshLeeway != 30*time.Second {
		t.Errorf("expected default refresh leeway 30s, got %v", cfg.Session.RefreshLeeway)
	}
	if cfg.RateLimit.LoginAttempts != 10 {
		t.Errorf("expected default login attempts 10, got %d", cfg.RateLimit.LoginAttempts)
	}
	if len(cfg.Gateway.Routes) == 0 {
		t.Fatal("expected default route rules")
	}
	last := cfg.Gateway.Routes[len(cfg.Gateway.Routes)-1]
	if last.Prefix != "/" || last.Access != "required" {
		t.Errorf("expected catch-all required rule, got %+v", last)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  port: 9090
  host: "127.0.0.1"
  read_timeout: 10s
  write_timeout: 15s
backend:
  url: "http://identity:9000"
  timeout: 5s
store:
  kind: redis
  redis:
    addr: "redis:6379"
    key_prefix: "test:"
gateway:
  upstream: "http://app:3000"
  cookie_secure: true
  routes:
    - prefix: /admin
      access: required
      role: admin
      fallback_path: /login
rate_limit:
  login_attempts: 5
  window: 2m
cors:
  allowed_origins: ["https://example.com"]
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Backend.URL != "http://identity:9000" {
		t.Errorf("expected backend url http://identity:9000, got %s", cfg.Backend.URL)
	}
	if cfg.Store.Kind != "redis" || cfg.Store.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if !cfg.Gateway.CookieSecure {
		t.Error("expected cookie_secure true")
	}
	if len(cfg.Gateway.Routes) != 1 || cfg.Gateway.Routes[0].Role != "admin" {
		t.Errorf("unexpected routes %+v", cfg.Gateway.Routes)
	}
	if cfg.RateLimit.LoginAttempts != 5 {
		t.Errorf("expected login attempts 5, got %d", cfg.RateLimit.LoginAttempts)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://example.com" {
		t.Errorf("expected cors origins [https://example.com], got %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with empty path should use defaults: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WICKET_BACKEND_URL", "http://env-identity:9000")
	t.Setenv("WICKET_UPSTREAM", "http://env-app:3000")
	t.Setenv("WICKET_PORT", "3000")
	t.Setenv("WICKET_HOST", "10.0.0.1")
	t.Setenv("WICKET_ENCRYPTION_KEY", "abc123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.URL != "http://env-identity:9000" {
		t.Errorf("expected env backend URL, got %s", cfg.Backend.URL)
	}
	if cfg.Gateway.Upstream != "http://env-app:3000" {
		t.Errorf("expected env upstream, got %s", cfg.Gateway.Upstream)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "10.0.0.1" {
		t.Errorf("expected host 10.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Encryption.Key != "abc123" {
		t.Errorf("expected encryption key abc123, got %s", cfg.Encryption.Key)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"port too low", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, true},
		{"empty backend url", func(c *Config) { c.Backend.URL = "" }, true},
		{"zero backend timeout", func(c *Config) { c.Backend.Timeout = 0 }, true},
		{"unknown store kind", func(c *Config) { c.Store.Kind = "etcd" }, true},
		{"file store without path", func(c *Config) { c.Store.Path = "" }, true},
		{"postgres store without url", func(c *Config) {
			c.Store.Kind = "postgres"
			c.Store.DatabaseURL = ""
		}, true},
		{"redis store without addr", func(c *Config) {
			c.Store.Kind = "redis"
			c.Store.Redis.Addr = ""
		}, true},
		{"memory store", func(c *Config) { c.Store.Kind = "memory" }, false},
		{"empty upstream", func(c *Config) { c.Gateway.Upstream = "" }, true},
		{"empty cookie name", func(c *Config) { c.Gateway.CookieName = "" }, true},
		{"zero proxy timeout", func(c *Config) { c.Gateway.ProxyTimeout = 0 }, true},
		{"zero max request size", func(c *Config) { c.Gateway.MaxRequestSize = 0 }, true},
		{"route with bad access", func(c *Config) {
			c.Gateway.Routes = []RouteRule{{Prefix: "/", Access: "maybe"}}
		}, true},
		{"required route without fallback", func(c *Config) {
			c.Gateway.Routes = []RouteRule{{Prefix: "/", Access: "required"}}
		}, true},
		{"anonymous route without redirect", func(c *Config) {
			c.Gateway.Routes = []RouteRule{{Prefix: "/login", Access: "anonymous"}}
		}, true},
		{"route with unknown role", func(c *Config) {
			c.Gateway.Routes = []RouteRule{{Prefix: "/", Access: "required", FallbackPath: "/login", Role: "owner"}}
		}, true},
		{"role on anonymous route", func(c *Config) {
			c.Gateway.Routes = []RouteRule{{Prefix: "/login", Access: "anonymous", RedirectPath: "/", Role: "admin"}}
		}, true},
		{"public route", func(c *Config) {
			c.Gateway.Routes = []RouteRule{{Prefix: "/health", Access: "public"}}
		}, false},
		{"negative login attempts", func(c *Config) { c.RateLimit.LoginAttempts = -1 }, true},
		{"rate limited without window", func(c *Config) {
			c.RateLimit.LoginAttempts = 5
			c.RateLimit.Window = 0
		}, true},
		{"rate limiting disabled", func(c *Config) {
			c.RateLimit.LoginAttempts = 0
			c.RateLimit.Window = 0
		}, false},
		{"zero audit batch size", func(c *Config) { c.Audit.BatchSize = 0 }, true},
		{"zero audit flush interval", func(c *Config) { c.Audit.FlushInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := defaults()
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("expected 0.0.0.0:8080, got %s", cfg.Addr())
	}
}

func TestDatabaseURLForMigrate(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"with sslmode", "postgres://host/db?sslmode=disable", "postgres://host/db?sslmode=disable"},
		{"without sslmode no query", "postgres://host/db", "postgres://host/db?sslmode=disable"},
		{"without sslmode with query", "postgres://host/db?foo=bar", "postgres://host/db?foo=bar&sslmode=disable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Store: StoreConfig{DatabaseURL: tt.url}}
			got := cfg.DatabaseURLForMigrate()
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_WICKET_VAR", "hello")
	result := expandEnvVars("value: ${TEST_WICKET_VAR}")
	if result != "value: hello" {
		t.Errorf("expected 'value: hello', got %s", result)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}
