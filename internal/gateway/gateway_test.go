package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mordwell/wicket/internal/audit"
	"github.com/mordwell/wicket/internal/authapi"
	"github.com/mordwell/wicket/internal/config"
	"github.com/mordwell/wicket/internal/session"
	"github.com/mordwell/wicket/internal/tokenstore"
)

// fakeBackend scripts the identity service for router-level tests.
type fakeBackend struct {
	loginFn   func(ctx context.Context, email, password string) (*authapi.Credential, error)
	refreshFn func(ctx context.Context, refreshToken string) (*authapi.TokenPair, error)
	meFn      func(ctx context.Context, accessToken string) (*authapi.UserProfile, error)
}

func (f *fakeBackend) Login(ctx context.Context, email, password string) (*authapi.Credential, error) {
	if f.loginFn == nil {
		return nil, &authapi.Error{Code: authapi.CodeInvalidCredentials, Message: "Invalid email or password."}
	}
	return f.loginFn(ctx, email, password)
}

func (f *fakeBackend) Register(ctx context.Context, in authapi.RegisterInput) (*authapi.Credential, error) {
	return f.Login(ctx, in.Email, in.Password)
}

func (f *fakeBackend) Logout(ctx context.Context, accessToken string) error { return nil }

func (f *fakeBackend) Refresh(ctx context.Context, refreshToken string) (*authapi.TokenPair, error) {
	if f.refreshFn == nil {
		return nil, &authapi.Error{Code: authapi.CodeUnauthorized, Message: "token revoked"}
	}
	return f.refreshFn(ctx, refreshToken)
}

func (f *fakeBackend) Me(ctx context.Context, accessToken string) (*authapi.UserProfile, error) {
	if f.meFn == nil {
		return fakeProfile(), nil
	}
	return f.meFn(ctx, accessToken)
}

func fakeProfile() *authapi.UserProfile {
	return &authapi.UserProfile{
		ID:    "user-1",
		Email: "dev@example.com",
		Organization: authapi.Organization{
			ID: "org-1", Name: "Acme", Slug: "acme",
		},
		OrganizationMembership: authapi.OrganizationMembership{Role: "developer"},
	}
}

func fakeCredential() *authapi.Credential {
	return &authapi.Credential{
		User: *fakeProfile(),
		Tokens: authapi.TokenPair{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "bearer",
			ExpiresIn:    900,
		},
	}
}

type recordingAuditor struct {
	events []audit.Event
}

func (a *recordingAuditor) Record(ev audit.Event) {
	a.events = append(a.events, ev)
}

func testRouter(t *testing.T, backend session.Backend, upstream http.Handler) (http.Handler, *recordingAuditor) {
	t.Helper()

	var upstreamURL string
	if upstream != nil {
		srv := httptest.NewServer(upstream)
		t.Cleanup(srv.Close)
		upstreamURL = srv.URL
	} else {
		upstreamURL = "http://127.0.0.1:0"
	}

	proxy, err := NewProxy(upstreamURL, 5*time.Second, 1<<20)
	if err != nil {
		t.Fatalf("creating proxy: %v", err)
	}

	registry := NewRegistry(RegistryConfig{
		Backend:    backend,
		Store:      tokenstore.NewMemory(),
		CookieName: "wicket_sid",
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	auditor := &recordingAuditor{}
	router := NewRouter(RouterDeps{
		Registry: registry,
		Proxy:    proxy,
		Auditor:  auditor,
		Routes: []config.RouteRule{
			{Prefix: "/login", Access: "anonymous", RedirectPath: "/"},
			{Prefix: "/admin", Access: "required", Role: "admin", FallbackPath: "/login"},
			{Prefix: "/", Access: "required", FallbackPath: "/login"},
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return router, auditor
}

func postJSON(t *testing.T, router http.Handler, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encoding body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginEndpoint(t *testing.T) {
	backend := &fakeBackend{
		loginFn: func(ctx context.Context, email, password string) (*authapi.Credential, error) {
			return fakeCredential(), nil
		},
	}
	router, auditor := testRouter(t, backend, nil)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"email": "dev@example.com", "password": "hunter2",
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var snap struct {
		State   int `json:"state"`
		Session *struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if snap.Session == nil || snap.Session.Email != "dev@example.com" {
		t.Errorf("expected session in response, got %s", rec.Body.String())
	}

	// An identity cookie is issued on first sight.
	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "wicket_sid" && c.Value != "" {
			if !c.HttpOnly {
				t.Error("identity cookie must be HttpOnly")
			}
			found = true
		}
	}
	if !found {
		t.Error("expected wicket_sid cookie on first response")
	}

	if len(auditor.events) != 1 || auditor.events[0].Operation != audit.OpLogin || auditor.events[0].Outcome != audit.OutcomeSuccess {
		t.Errorf("expected one successful login audit event, got %+v", auditor.events)
	}
}

func TestLoginEndpointInvalidCredentials(t *testing.T) {
	router, auditor := testRouter(t, &fakeBackend{}, nil)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"email": "dev@example.com", "password": "wrong",
	}, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if envelope.Error.Code != authapi.CodeInvalidCredentials {
		t.Errorf("expected invalid_credentials, got %q", envelope.Error.Code)
	}

	if len(auditor.events) != 1 || auditor.events[0].Outcome != audit.OutcomeFailure {
		t.Errorf("expected one failed audit event, got %+v", auditor.events)
	}
}

func TestLoginEndpointValidation(t *testing.T) {
	router, _ := testRouter(t, &fakeBackend{}, nil)

	rec := postJSON(t, router, "/auth/login", map[string]string{"email": "dev@example.com"}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing password, got %d", rec.Code)
	}
}

func TestSessionEndpointAnonymous(t *testing.T) {
	router, _ := testRouter(t, &fakeBackend{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap struct {
		State   int             `json:"state"`
		Session json.RawMessage `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(snap.Session) != 0 {
		t.Errorf("expected no session for a fresh client, got %s", snap.Session)
	}
}

func TestLoginThenLogoutFlow(t *testing.T) {
	backend := &fakeBackend{
		loginFn: func(ctx context.Context, email, password string) (*authapi.Credential, error) {
			return fakeCredential(), nil
		},
	}
	router, auditor := testRouter(t, backend, nil)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"email": "dev@example.com", "password": "hunter2",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()

	rec = postJSON(t, router, "/auth/logout", struct{}{}, cookies)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rec.Code)
	}

	// The same client is anonymous again.
	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if !strings.Contains(rec2.Body.String(), `"state":1`) {
		t.Errorf("expected anonymous state after logout, got %s", rec2.Body.String())
	}

	ops := []string{}
	for _, ev := range auditor.events {
		ops = append(ops, ev.Operation)
	}
	if len(ops) != 2 || ops[0] != audit.OpLogin || ops[1] != audit.OpLogout {
		t.Errorf("expected login+logout audit trail, got %v", ops)
	}
}

func TestGuardedRouteRedirectsAnonymous(t *testing.T) {
	router, _ := testRouter(t, &fakeBackend{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("expected redirect to /login, got %q", loc)
	}
}

func TestGuardedRouteRoleEnforced(t *testing.T) {
	backend := &fakeBackend{
		loginFn: func(ctx context.Context, email, password string) (*authapi.Credential, error) {
			return fakeCredential(), nil // developer role
		},
	}
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream content"))
	})
	router, _ := testRouter(t, backend, upstream)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"email": "dev@example.com", "password": "hunter2",
	}, nil)
	cookies := rec.Result().Cookies()

	// Developer may see the dashboard.
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 from upstream, got %d", rec2.Code)
	}
	if !strings.Contains(rec2.Body.String(), "upstream content") {
		t.Errorf("expected proxied body, got %q", rec2.Body.String())
	}

	// But not the admin area.
	req = httptest.NewRequest(http.MethodGet, "/admin/settings", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req)
	if rec3.Code != http.StatusFound {
		t.Fatalf("expected 302 for admin area, got %d", rec3.Code)
	}
	if loc := rec3.Header().Get("Location"); loc != "/unauthorized" {
		t.Errorf("expected redirect to /unauthorized, got %q", loc)
	}
}

func TestAnonymousRouteRedirectsAuthenticated(t *testing.T) {
	backend := &fakeBackend{
		loginFn: func(ctx context.Context, email, password string) (*authapi.Credential, error) {
			return fakeCredential(), nil
		},
	}
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("login page"))
	})
	router, _ := testRouter(t, backend, upstream)

	// Anonymous client sees the login page.
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for anonymous on /login, got %d", rec.Code)
	}

	// Authenticated client is redirected away.
	rec = postJSON(t, router, "/auth/login", map[string]string{
		"email": "dev@example.com", "password": "hunter2",
	}, nil)
	cookies := rec.Result().Cookies()

	req = httptest.NewRequest(http.MethodGet, "/login", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusFound {
		t.Fatalf("expected 302 for authenticated on /login, got %d", rec2.Code)
	}
	if loc := rec2.Header().Get("Location"); loc != "/" {
		t.Errorf("expected redirect to /, got %q", loc)
	}
}

func TestProxyInjectsBearerToken(t *testing.T) {
	backend := &fakeBackend{
		loginFn: func(ctx context.Context, email, password string) (*authapi.Credential, error) {
			return fakeCredential(), nil
		},
	}
	var gotAuth, gotCookie string
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		w.WriteHeader(http.StatusOK)
	})
	router, _ := testRouter(t, backend, upstream)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"email": "dev@example.com", "password": "hunter2",
	}, nil)
	cookies := rec.Result().Cookies()

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	router.ServeHTTP(httptest.NewRecorder(), req)

	if gotAuth != "Bearer access-1" {
		t.Errorf("expected bearer token on upstream leg, got %q", gotAuth)
	}
	if gotCookie != "" {
		t.Errorf("identity cookie must not leak upstream, got %q", gotCookie)
	}
}

func TestProxyRetriesOnceAfter401(t *testing.T) {
	refreshed := false
	backend := &fakeBackend{
		loginFn: func(ctx context.Context, email, password string) (*authapi.Credential, error) {
			return fakeCredential(), nil
		},
		refreshFn: func(ctx context.Context, refreshToken string) (*authapi.TokenPair, error) {
			refreshed = true
			return &authapi.TokenPair{
				AccessToken:  "access-2",
				RefreshToken: "refresh-2",
				ExpiresIn:    900,
			}, nil
		},
	}

	var tokens []string
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		tokens = append(tokens, token)
		if token != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	})
	router, _ := testRouter(t, backend, upstream)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"email": "dev@example.com", "password": "hunter2",
	}, nil)
	cookies := rec.Result().Cookies()

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)

	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 after retry, got %d", rec2.Code)
	}
	if !refreshed {
		t.Error("expected a forced refresh after upstream 401")
	}
	if len(tokens) != 2 {
		t.Fatalf("expected exactly one retry, got %d upstream calls", len(tokens))
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := testRouter(t, &fakeBackend{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestRegistryAuditsRestoredSession(t *testing.T) {
	store := tokenstore.NewMemory()
	clientID := uuid.NewString()
	err := tokenstore.Bind(store, clientID).Save(context.Background(), tokenstore.Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	auditor := &recordingAuditor{}
	registry := NewRegistry(RegistryConfig{
		Backend:    &fakeBackend{},
		Store:      store,
		CookieName: "wicket_sid",
		Auditor:    auditor,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	m := registry.Lookup(context.Background(), clientID)
	if snap := m.Snapshot(); snap.State != session.StateAuthenticated {
		t.Fatalf("expected restored session, got state %v", snap.State)
	}

	if len(auditor.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(auditor.events))
	}
	ev := auditor.events[0]
	if ev.Operation != audit.OpInitialize || ev.Outcome != audit.OutcomeSuccess {
		t.Errorf("expected successful initialize event, got %+v", ev)
	}
	if ev.ClientID != clientID || ev.Email != "dev@example.com" {
		t.Errorf("unexpected event identity fields: %+v", ev)
	}

	// A fresh anonymous client leaves no trail.
	registry.Lookup(context.Background(), uuid.NewString())
	if len(auditor.events) != 1 {
		t.Errorf("anonymous settle must not be audited, got %d events", len(auditor.events))
	}
}

func TestRegistryEvictsIdleClients(t *testing.T) {
	registry := NewRegistry(RegistryConfig{
		Backend:     &fakeBackend{},
		Store:       tokenstore.NewMemory(),
		CookieName:  "wicket_sid",
		IdleTimeout: 10 * time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	registry.Ensure(rec, req)

	if registry.Len() != 1 {
		t.Fatalf("expected 1 client, got %d", registry.Len())
	}

	time.Sleep(20 * time.Millisecond)
	registry.evictIdle()

	if registry.Len() != 0 {
		t.Fatalf("expected idle client evicted, got %d", registry.Len())
	}
}

func TestRegistryReusesManagerForCookie(t *testing.T) {
	registry := NewRegistry(RegistryConfig{
		Backend:    &fakeBackend{},
		Store:      tokenstore.NewMemory(),
		CookieName: "wicket_sid",
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id1, m1 := registry.Ensure(rec, req)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req2.AddCookie(c)
	}
	id2, m2 := registry.Ensure(httptest.NewRecorder(), req2)

	if id1 != id2 {
		t.Errorf("expected stable client id, got %q then %q", id1, id2)
	}
	if m1 != m2 {
		t.Error("expected the same manager for the same cookie")
	}
}
