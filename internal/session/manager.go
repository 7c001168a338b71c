package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/mordwell/wicket/internal/authapi"
	"github.com/mordwell/wicket/internal/tokenstore"
)

// ErrNotAuthenticated is returned by operations that need a held token pair
// when none exists.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// ErrSuperseded is returned when an operation's result was discarded because
// a later operation committed first (e.g. a login response arriving after an
// intervening logout).
var ErrSuperseded = errors.New("session: operation superseded")

// Backend is the slice of the identity service client the manager needs.
// *authapi.Client satisfies it; tests substitute fakes.
type Backend interface {
	Login(ctx context.Context, email, password string) (*authapi.Credential, error)
	Register(ctx context.Context, in authapi.RegisterInput) (*authapi.Credential, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*authapi.TokenPair, error)
	Me(ctx context.Context, accessToken string) (*authapi.UserProfile, error)
}

// TokenStore is the single-client token persistence the manager owns.
// *tokenstore.Bound satisfies it. The manager is the only writer.
type TokenStore interface {
	Load(ctx context.Context) (*tokenstore.Tokens, error)
	Save(ctx context.Context, t tokenstore.Tokens) error
	Clear(ctx context.Context) error
}

// Options tune manager behavior. The zero value is usable.
type Options struct {
	// RefreshLeeway treats access tokens expiring within this window as
	// already expired. Defaults to 30 seconds.
	RefreshLeeway time.Duration
	// RefetchIdentity re-fetches the identity after a successful refresh to
	// keep the session fresh. When false the existing session is kept.
	RefetchIdentity bool
	// Logger receives swallowed failures (Initialize, best-effort logout).
	// Defaults to slog.Default().
	Logger *slog.Logger
	// OnSharedRefresh is called for every Refresh call that joined an
	// in-flight exchange instead of starting its own. Optional.
	OnSharedRefresh func()
}

// Manager is the single source of truth for who is logged in for one
// client, and the only component that mutates that client's token store.
// It is safe for concurrent use.
type Manager struct {
	backend Backend
	tokens  TokenStore
	opts    Options
	log     *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	state     State
	session   *Session
	seq       uint64 // next operation sequence
	committed uint64 // sequence of the last committed mutation

	refreshGroup singleflight.Group

	subMu sync.Mutex
	subs  []func(Snapshot)
}

// NewManager creates a manager in StateUnknown. Call Initialize to settle
// the initial state.
func NewManager(backend Backend, tokens TokenStore, opts Options) *Manager {
	if opts.RefreshLeeway <= 0 {
		opts.RefreshLeeway = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		backend: backend,
		tokens:  tokens,
		opts:    opts,
		log:     log,
		now:     time.Now,
		state:   StateUnknown,
	}
}

// Snapshot returns the current state atomically.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, Session: m.session}
}

// OnChange registers fn to be called after every committed state
// transition, outside the manager's lock.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, fn)
}

// HasRole reports an exact role match. False when no session is held.
func (m *Manager) HasRole(r Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.Role == r
}

// HasMinimumRole reports whether the session's role ranks at or above r.
// False when no session is held.
func (m *Manager) HasMinimumRole(r Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.Role.AtLeast(r)
}

// Initialize settles the initial state from whatever the token store holds.
// It never returns an error: any failure is logged, tokens are cleared, and
// the state settles at StateAnonymous.
func (m *Manager) Initialize(ctx context.Context) Snapshot {
	seq := m.beginOp()

	stored, err := m.tokens.Load(ctx)
	if err != nil {
		m.log.Warn("session: loading stored tokens failed", "error", err)
		m.settleAnonymous(ctx, seq, true)
		return m.Snapshot()
	}
	if stored == nil {
		m.settleAnonymous(ctx, seq, false)
		return m.Snapshot()
	}

	if m.accessUsable(stored) {
		profile, err := m.backend.Me(ctx, stored.AccessToken)
		if err == nil {
			m.commit(ctx, seq, StateAuthenticated, fromProfile(profile), nil, false)
			return m.Snapshot()
		}
		m.log.Info("session: rehydration identity fetch failed", "error", err)
		// Fall through to a refresh attempt before giving up.
	}

	if stored.RefreshToken != "" {
		// Shares any refresh already in flight; failure cleared the tokens
		// and settled the state.
		_, _ = m.sharedRefresh(ctx)
		return m.Snapshot()
	}

	m.settleAnonymous(ctx, seq, true)
	return m.Snapshot()
}

// Login exchanges credentials for a session. Backend rejections surface as
// *authapi.Error; the caller translates them into UI feedback.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	seq := m.beginOp()

	cred, err := m.backend.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	return m.adopt(ctx, seq, cred)
}

// Register creates an account and logs the new user in.
func (m *Manager) Register(ctx context.Context, in authapi.RegisterInput) (*Session, error) {
	seq := m.beginOp()

	cred, err := m.backend.Register(ctx, in)
	if err != nil {
		return nil, err
	}

	return m.adopt(ctx, seq, cred)
}

// Logout revokes the session server-side (best effort) and unconditionally
// clears the session and token store.
func (m *Manager) Logout(ctx context.Context) error {
	seq := m.beginOp()

	if stored, err := m.tokens.Load(ctx); err == nil && stored != nil && stored.AccessToken != "" {
		if err := m.backend.Logout(ctx, stored.AccessToken); err != nil {
			m.log.Warn("session: backend logout failed", "error", err)
		}
	}

	won, err := m.commit(ctx, seq, StateAnonymous, nil, nil, true)
	if won && err != nil {
		return err
	}
	return nil
}

// Refresh exchanges the stored refresh token for a new pair. Concurrent
// callers share a single in-flight exchange and observe the same outcome.
// On failure the session and token store are cleared.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	return m.sharedRefresh(ctx)
}

// sharedRefresh funnels every refresh attempt, including Initialize's
// rehydration, through one flight group so at most one exchange is
// outbound at a time.
func (m *Manager) sharedRefresh(ctx context.Context) (*Session, error) {
	v, err, shared := m.refreshGroup.Do("refresh", func() (any, error) {
		// The leader's exchange outlives its own caller so followers are
		// not failed by an unrelated cancellation.
		return m.doRefresh(context.WithoutCancel(ctx), m.beginOp())
	})
	if shared && m.opts.OnSharedRefresh != nil {
		m.opts.OnSharedRefresh()
	}
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// BearerToken returns an access token ready for an Authorization header,
// refreshing first when the stored one is no longer usable.
func (m *Manager) BearerToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	authed := m.state == StateAuthenticated
	m.mu.Unlock()
	if !authed {
		return "", ErrNotAuthenticated
	}

	stored, err := m.tokens.Load(ctx)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", ErrNotAuthenticated
	}
	if m.accessUsable(stored) {
		return stored.AccessToken, nil
	}

	if _, err := m.Refresh(ctx); err != nil {
		return "", err
	}
	stored, err = m.tokens.Load(ctx)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", ErrNotAuthenticated
	}
	return stored.AccessToken, nil
}

// --- internals ---

// adopt commits a credential response as the new session and persists its
// token pair. The store write happens only after the commit wins so a stale
// response can never repopulate a cleared store.
func (m *Manager) adopt(ctx context.Context, seq uint64, cred *authapi.Credential) (*Session, error) {
	sess := fromProfile(&cred.User)
	tokens := tokensFromPair(cred.Tokens, m.now())

	if won, _ := m.commit(ctx, seq, StateAuthenticated, sess, &tokens, false); !won {
		return nil, ErrSuperseded
	}
	return sess, nil
}

// doRefresh performs the actual exchange. Every caller reaches it through
// sharedRefresh, so at most one exchange is in flight.
func (m *Manager) doRefresh(ctx context.Context, seq uint64) (*Session, error) {
	stored, err := m.tokens.Load(ctx)
	if err != nil || stored == nil || stored.RefreshToken == "" {
		m.settleAnonymous(ctx, seq, true)
		if err != nil {
			return nil, err
		}
		return nil, ErrNotAuthenticated
	}

	pair, err := m.backend.Refresh(ctx, stored.RefreshToken)
	if err != nil {
		m.settleAnonymous(ctx, seq, true)
		return nil, err
	}
	tokens := tokensFromPair(*pair, m.now())

	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if m.opts.RefetchIdentity || sess == nil {
		profile, err := m.backend.Me(ctx, tokens.AccessToken)
		if err == nil {
			sess = fromProfile(profile)
		} else if sess == nil {
			m.settleAnonymous(ctx, seq, true)
			return nil, err
		} else {
			m.log.Warn("session: identity refetch after refresh failed", "error", err)
		}
	}

	if won, _ := m.commit(ctx, seq, StateAuthenticated, sess, &tokens, false); !won {
		return nil, ErrSuperseded
	}
	return sess, nil
}

// beginOp reserves the next operation sequence.
func (m *Manager) beginOp() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

// commit applies a state transition if no later operation has committed
// since seq was reserved. The store write (Save when tokens is non-nil,
// Clear when clear is set) happens under the same lock as the transition,
// so a superseded operation can never overwrite a later operation's store
// write: a slow login's Save either wins the commit before an intervening
// logout begins, or loses it and never runs. The returned error is the
// store write error, if any. Subscribers are notified outside the lock.
func (m *Manager) commit(ctx context.Context, seq uint64, state State, sess *Session, tokens *tokenstore.Tokens, clear bool) (bool, error) {
	m.mu.Lock()
	if seq < m.committed {
		m.mu.Unlock()
		return false, nil
	}
	m.committed = seq
	changed := m.state != state || m.session != sess
	m.state = state
	m.session = sess
	snap := Snapshot{State: state, Session: sess}

	var storeErr error
	switch {
	case tokens != nil:
		if storeErr = m.tokens.Save(ctx, *tokens); storeErr != nil {
			m.log.Error("session: persisting tokens failed", "error", storeErr)
		}
	case clear:
		storeErr = m.tokens.Clear(ctx)
	}
	m.mu.Unlock()

	if changed {
		m.notify(snap)
	}
	return true, storeErr
}

// settleAnonymous commits StateAnonymous and, when clear is set, empties
// the token store so no dangling pair survives.
func (m *Manager) settleAnonymous(ctx context.Context, seq uint64, clear bool) {
	if _, err := m.commit(ctx, seq, StateAnonymous, nil, nil, clear); err != nil {
		m.log.Warn("session: clearing token store failed", "error", err)
	}
}

func (m *Manager) notify(snap Snapshot) {
	m.subMu.Lock()
	subs := make([]func(Snapshot), len(m.subs))
	copy(subs, m.subs)
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// accessUsable reports whether the stored access token is worth presenting:
// not within RefreshLeeway of its recorded expiry, and not past the exp
// claim when the token is a readable JWT. Opaque tokens with no recorded
// expiry are presumed usable.
func (m *Manager) accessUsable(t *tokenstore.Tokens) bool {
	if t.AccessToken == "" {
		return false
	}
	cutoff := m.now().Add(m.opts.RefreshLeeway)
	if !t.ExpiresAt.IsZero() {
		return cutoff.Before(t.ExpiresAt)
	}

	// No recorded expiry: peek at the exp claim without verifying the
	// signature (verification is the backend's job).
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return cutoff.Before(exp.Time)
}

// tokensFromPair converts a wire token pair into its stored form, pinning
// the relative expiry to an absolute instant.
func tokensFromPair(p authapi.TokenPair, now time.Time) tokenstore.Tokens {
	t := tokenstore.Tokens{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
	}
	if p.ExpiresIn > 0 {
		t.ExpiresAt = now.Add(time.Duration(p.ExpiresIn) * time.Second)
	}
	return t
}
