package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mordwell/wicket/internal/metrics"
	"github.com/mordwell/wicket/internal/session"
)

// hopHeaders are never forwarded in either direction.
var hopHeaders = map[string]bool{
	"Authorization":       true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Cookie":              true,
}

// Proxy forwards requests to the upstream application, attaching the
// client's access token. The browser never sees the token; it rides only on
// the gateway-to-upstream leg.
type Proxy struct {
	upstream       *url.URL
	client         *http.Client
	maxRequestSize int64
	metrics        *metrics.Metrics
}

// NewProxy creates a proxy for the given upstream base URL.
func NewProxy(upstream string, timeout time.Duration, maxRequestSize int64) (*Proxy, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		upstream:       u,
		client:         &http.Client{Timeout: timeout},
		maxRequestSize: maxRequestSize,
	}, nil
}

// SetMetrics sets the optional metrics recorder.
func (p *Proxy) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// ServeHTTP forwards the request upstream. When the upstream answers 401 the
// proxy forces one token refresh and retries once; a second 401 passes
// through so the client can re-authenticate.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m := ManagerFromContext(r.Context())
	if m == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no client session")
		return
	}

	token, err := m.BearerToken(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
			return
		}
		writeAuthError(w, err)
		return
	}

	if p.metrics != nil {
		p.metrics.ProxyActiveRequests.Inc()
		defer p.metrics.ProxyActiveRequests.Dec()
	}

	// Buffer the body so a 401 retry can resend it.
	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, p.maxRequestSize+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
			return
		}
		if int64(len(body)) > p.maxRequestSize {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds the allowed size")
			return
		}
	}

	resp, err := p.forward(r, token, body)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncProxyRequests(r.Method, http.StatusBadGateway)
			p.metrics.IncUpstreamError(classifyUpstreamError(err))
		}
		writeError(w, http.StatusBadGateway, "upstream_error", "upstream request failed")
		return
	}

	// One retry after a forced refresh. The manager deduplicates concurrent
	// refreshes, so a burst of 401s costs a single exchange.
	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if _, err := m.Refresh(r.Context()); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "session expired")
			return
		}
		token, err = m.BearerToken(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "session expired")
			return
		}

		if p.metrics != nil {
			p.metrics.ProxyRetriesTotal.Inc()
		}
		resp, err = p.forward(r, token, body)
		if err != nil {
			if p.metrics != nil {
				p.metrics.IncProxyRequests(r.Method, http.StatusBadGateway)
				p.metrics.IncUpstreamError(classifyUpstreamError(err))
			}
			writeError(w, http.StatusBadGateway, "upstream_error", "upstream request failed")
			return
		}
	}
	defer resp.Body.Close()

	if p.metrics != nil {
		p.metrics.IncProxyRequests(r.Method, resp.StatusCode)
	}

	// Copy response headers.
	for key, values := range resp.Header {
		if hopHeaders[key] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// forward executes one upstream round trip with the given token.
func (p *Proxy) forward(r *http.Request, token string, body []byte) (*http.Response, error) {
	target := *p.upstream
	target.Path = singleJoin(p.upstream.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), reader)
	if err != nil {
		return nil, err
	}

	for key, values := range r.Header {
		if hopHeaders[key] {
			continue
		}
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	outReq.Header.Set("Authorization", "Bearer "+token)
	outReq.Header.Set("X-Forwarded-For", clientIP(r))
	outReq.Header.Set("X-Forwarded-Host", r.Host)
	if id := RequestIDFromContext(r.Context()); id != "" {
		outReq.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := p.client.Do(outReq)
	if p.metrics != nil {
		p.metrics.ObserveUpstreamDuration(time.Since(start).Seconds())
	}
	return resp, err
}

func singleJoin(a, b string) string {
	a = strings.TrimRight(a, "/")
	if !strings.HasPrefix(b, "/") {
		b = "/" + b
	}
	return a + b
}

// classifyUpstreamError categorizes an upstream HTTP client error.
func classifyUpstreamError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Op == "dial" {
			return "connection_refused"
		}
		return "network"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	return "other"
}
