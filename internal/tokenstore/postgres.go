package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mordwell/wicket/internal/crypto"
)

// Postgres stores one row per client in the client_tokens table (see
// migrations/). Set is a single upsert so the pair is always replaced
// wholesale.
type Postgres struct {
	pool   *pgxpool.Pool
	cipher *crypto.Cipher
}

// NewPostgres creates a store backed by the given connection pool.
// cipher may be nil, in which case payloads are stored unsealed.
func NewPostgres(pool *pgxpool.Pool, cipher *crypto.Cipher) *Postgres {
	return &Postgres{pool: pool, cipher: cipher}
}

// Get returns the stored pair for clientID, or nil when absent.
func (p *Postgres) Get(ctx context.Context, clientID string) (*Tokens, error) {
	var payload string
	err := p.pool.QueryRow(ctx,
		`SELECT payload FROM client_tokens WHERE client_id = $1`, clientID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting tokens: %w", err)
	}

	t, err := decodeTokens(payload, p.cipher)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Set replaces the stored pair for clientID.
func (p *Postgres) Set(ctx context.Context, clientID string, t Tokens) error {
	payload, err := encodeTokens(t, p.cipher)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO client_tokens (client_id, payload, expires_at, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (client_id)
		 DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		clientID, payload, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("setting tokens: %w", err)
	}
	return nil
}

// Clear removes the stored pair for clientID.
func (p *Postgres) Clear(ctx context.Context, clientID string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM client_tokens WHERE client_id = $1`, clientID,
	); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	return nil
}
