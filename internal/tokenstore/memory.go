package tokenstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store for tests and ephemeral gateways.
type Memory struct {
	mu     sync.RWMutex
	tokens map[string]Tokens
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]Tokens)}
}

// Get returns the stored pair for clientID, or nil when absent.
func (m *Memory) Get(ctx context.Context, clientID string) (*Tokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[clientID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// Set replaces the stored pair for clientID.
func (m *Memory) Set(ctx context.Context, clientID string, t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[clientID] = t
	return nil
}

// Clear removes the stored pair for clientID.
func (m *Memory) Clear(ctx context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, clientID)
	return nil
}
