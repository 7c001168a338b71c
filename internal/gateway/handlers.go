package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mordwell/wicket/internal/audit"
	"github.com/mordwell/wicket/internal/authapi"
	"github.com/mordwell/wicket/internal/metrics"
	"github.com/mordwell/wicket/internal/session"
)

// AuditRecorder is the slice of the audit collector the handlers need.
type AuditRecorder interface {
	Record(ev audit.Event)
}

// authHandler groups the session HTTP endpoints. Every handler operates on
// the manager the client middleware resolved for this request.
type authHandler struct {
	auditor AuditRecorder
	metrics *metrics.Metrics
}

func newAuthHandler(auditor AuditRecorder, m *metrics.Metrics) *authHandler {
	return &authHandler{auditor: auditor, metrics: m}
}

// Login handles POST /auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, authapi.CodeValidationError, "email and password are required")
		return
	}

	m := ManagerFromContext(r.Context())
	sess, err := m.Login(r.Context(), req.Email, req.Password)
	h.record(r, audit.OpLogin, req.Email, sess, err)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m.Snapshot())
}

// Register handles POST /auth/register.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req authapi.RegisterInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, authapi.CodeValidationError, "email and password are required")
		return
	}

	m := ManagerFromContext(r.Context())
	sess, err := m.Register(r.Context(), req)
	h.record(r, audit.OpRegister, req.Email, sess, err)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, m.Snapshot())
}

// Logout handles POST /auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	m := ManagerFromContext(r.Context())

	snap := m.Snapshot()
	email := ""
	if snap.Session != nil {
		email = snap.Session.Email
	}

	err := m.Logout(r.Context())
	h.record(r, audit.OpLogout, email, nil, err)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /auth/refresh.
func (h *authHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	m := ManagerFromContext(r.Context())

	sess, err := m.Refresh(r.Context())
	h.record(r, audit.OpRefresh, "", sess, err)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m.Snapshot())
}

// Session handles GET /auth/session. It always answers 200; the caller
// inspects the state field.
func (h *authHandler) Session(w http.ResponseWriter, r *http.Request) {
	m := ManagerFromContext(r.Context())
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// record emits one audit event and the matching metric for an auth
// operation.
func (h *authHandler) record(r *http.Request, op, email string, sess *session.Session, err error) {
	outcome := audit.OutcomeSuccess
	code := ""
	if err != nil {
		outcome = audit.OutcomeFailure
		if errors.Is(err, session.ErrSuperseded) {
			outcome = audit.OutcomeSuperseded
		}
		var apiErr *authapi.Error
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		}
	}

	userID := ""
	if sess != nil {
		userID = sess.UserID
		if email == "" {
			email = sess.Email
		}
	}

	if h.metrics != nil {
		h.metrics.IncAuthOperation(op, outcome)
	}
	if h.auditor != nil {
		h.auditor.Record(audit.Event{
			ClientID:  ClientIDFromContext(r.Context()),
			UserID:    userID,
			Email:     email,
			Operation: op,
			Outcome:   outcome,
			Code:      code,
			IP:        clientIP(r),
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		})
	}
}

// clientIP extracts the originating IP, preferring X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
