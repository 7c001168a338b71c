package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mordwell/wicket/internal/crypto"
)

// Redis stores one value per client key. Suited to gateways running more
// than one replica behind a shared cookie domain.
type Redis struct {
	client *redis.Client
	cipher *crypto.Cipher
	prefix string
	ttl    time.Duration
}

// NewRedis creates a store on the given client. Keys are written under
// prefix; ttl bounds how long an untouched pair survives (0 means no
// expiry). cipher may be nil.
func NewRedis(client *redis.Client, cipher *crypto.Cipher, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "wicket:tokens:"
	}
	return &Redis{client: client, cipher: cipher, prefix: prefix, ttl: ttl}
}

// Get returns the stored pair for clientID, or nil when absent.
func (r *Redis) Get(ctx context.Context, clientID string) (*Tokens, error) {
	payload, err := r.client.Get(ctx, r.prefix+clientID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting tokens: %w", err)
	}

	t, err := decodeTokens(payload, r.cipher)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Set replaces the stored pair for clientID. A single SET keeps the
// replacement atomic.
func (r *Redis) Set(ctx context.Context, clientID string, t Tokens) error {
	payload, err := encodeTokens(t, r.cipher)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+clientID, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("setting tokens: %w", err)
	}
	return nil
}

// Clear removes the stored pair for clientID.
func (r *Redis) Clear(ctx context.Context, clientID string) error {
	if err := r.client.Del(ctx, r.prefix+clientID).Err(); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	return nil
}
