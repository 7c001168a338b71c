package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody caps how much of an error response we read (64 KB).
const maxErrorBody = 64 << 10

// Client talks to the identity service over HTTP/JSON. One outbound call per
// operation, no automatic retries.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the identity service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Login exchanges credentials for an identity and a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*Credential, error) {
	body := map[string]string{"email": email, "password": password}
	var cred Credential
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Register creates a new account and returns the same shape as Login.
func (c *Client) Register(ctx context.Context, in RegisterInput) (*Credential, error) {
	var cred Credential
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", in, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Logout invalidates the session server-side. Callers treat failures as
// best-effort.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", accessToken, struct{}{}, nil)
}

// Refresh exchanges a refresh token for a new token pair. Any 4xx response
// is a fatal refresh failure.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp struct {
		Tokens TokenPair `json:"tokens"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", "", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Tokens, nil
}

// Me fetches the identity behind an access token.
func (c *Client) Me(ctx context.Context, accessToken string) (*UserProfile, error) {
	var profile UserProfile
	if err := c.do(ctx, http.MethodGet, "/auth/me", accessToken, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// do performs one request/response cycle. Non-2xx responses are decoded into
// *Error; transport failures are wrapped with a generic message.
func (c *Client) do(ctx context.Context, method, path, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return wrapTransport(fmt.Errorf("encoding request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return wrapTransport(fmt.Errorf("building request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return wrapTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return wrapTransport(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// decodeError turns a non-2xx response into a typed *Error. The backend
// responds with {code, message, details?}; anything else becomes a generic
// unknown error.
func (c *Client) decodeError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return wrapTransport(fmt.Errorf("reading error response: %w", err))
	}

	var wire struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(data, &wire); err != nil || wire.Code == "" {
		apiErr := wrapTransport(fmt.Errorf("unexpected response status %d", resp.StatusCode))
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	return &Error{
		Code:    wire.Code,
		Message: wire.Message,
		Details: wire.Details,
		Status:  resp.StatusCode,
	}
}
