// Package tokenstore persists the token pair for each client. A write always
// replaces the stored pair wholesale so a concurrent reader can never observe
// a torn pair; a clear removes it entirely. The session manager is the only
// writer.
package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mordwell/wicket/internal/crypto"
)

// Tokens is the persisted token pair. ExpiresAt is the absolute access token
// expiry computed when the pair was stored.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store is keyed token persistence. Get returns (nil, nil) when no tokens are
// stored for the client. Set replaces the stored pair atomically.
type Store interface {
	Get(ctx context.Context, clientID string) (*Tokens, error)
	Set(ctx context.Context, clientID string, t Tokens) error
	Clear(ctx context.Context, clientID string) error
}

// Bound is the single-client view of a Store that the session manager
// consumes.
type Bound struct {
	store    Store
	clientID string
}

// Bind fixes a Store to one client id.
func Bind(store Store, clientID string) *Bound {
	return &Bound{store: store, clientID: clientID}
}

// Load returns the stored pair, or nil when absent.
func (b *Bound) Load(ctx context.Context) (*Tokens, error) {
	return b.store.Get(ctx, b.clientID)
}

// Save replaces the stored pair.
func (b *Bound) Save(ctx context.Context, t Tokens) error {
	return b.store.Set(ctx, b.clientID, t)
}

// Clear removes the stored pair.
func (b *Bound) Clear(ctx context.Context) error {
	return b.store.Clear(ctx, b.clientID)
}

// encodeTokens serializes and optionally seals a token pair for storage.
func encodeTokens(t Tokens, cipher *crypto.Cipher) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encoding tokens: %w", err)
	}
	sealed, err := cipher.Seal(string(data))
	if err != nil {
		return "", fmt.Errorf("sealing tokens: %w", err)
	}
	return sealed, nil
}

// decodeTokens reverses encodeTokens.
func decodeTokens(payload string, cipher *crypto.Cipher) (*Tokens, error) {
	opened, err := cipher.Open(payload)
	if err != nil {
		return nil, fmt.Errorf("opening tokens: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal([]byte(opened), &t); err != nil {
		return nil, fmt.Errorf("decoding tokens: %w", err)
	}
	return &t, nil
}
