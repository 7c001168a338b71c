package tokenstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mordwell/wicket/internal/crypto"
)

// schemaVersion is the current on-disk layout. Version 1 was the raw token
// pair with no envelope; version 2 wraps a (possibly sealed) payload in a
// versioned envelope. Files claiming a newer version than we understand are
// treated as absent and removed.
const schemaVersion = 2

// fileEnvelope is the versioned on-disk shape.
type fileEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	Payload       string `json:"payload"`
}

// File stores one token file per client under a directory. Writes go through
// a temp file and rename so a reader (or a process killed mid-write) never
// sees a torn pair.
type File struct {
	dir    string
	cipher *crypto.Cipher
	mu     sync.Mutex
}

// NewFile creates a file store rooted at dir, creating it if needed.
// cipher may be nil, in which case payloads are stored unsealed.
func NewFile(dir string, cipher *crypto.Cipher) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating token dir: %w", err)
	}
	return &File{dir: dir, cipher: cipher}, nil
}

// Get returns the stored pair for clientID, migrating legacy v1 files in
// place. Unknown schema versions and undecodable files are cleared and
// reported as absent.
func (f *File) Get(ctx context.Context, clientID string) (*Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(clientID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.SchemaVersion == 0 {
		// No envelope: probe for the legacy v1 layout (raw token pair).
		if t := decodeLegacy(data); t != nil {
			if err := f.write(path, *t); err != nil {
				return nil, err
			}
			return t, nil
		}
		_ = os.Remove(path)
		return nil, nil
	}

	if env.SchemaVersion != schemaVersion {
		_ = os.Remove(path)
		return nil, nil
	}

	t, err := decodeTokens(env.Payload, f.cipher)
	if err != nil {
		// A sealed payload we cannot open is a dead credential; drop it.
		_ = os.Remove(path)
		return nil, nil
	}
	return t, nil
}

// Set replaces the stored pair for clientID.
func (f *File) Set(ctx context.Context, clientID string, t Tokens) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(f.path(clientID), t)
}

// Clear removes the stored pair for clientID.
func (f *File) Clear(ctx context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(clientID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

// write marshals, seals, and atomically replaces the token file.
func (f *File) write(path string, t Tokens) error {
	payload, err := encodeTokens(t, f.cipher)
	if err != nil {
		return err
	}

	data, err := json.Marshal(fileEnvelope{SchemaVersion: schemaVersion, Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding token envelope: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("setting token file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing token file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

// path maps a client id to its token file. IDs outside [A-Za-z0-9_-] are
// hex-encoded so arbitrary ids cannot escape the directory.
func (f *File) path(clientID string) string {
	return filepath.Join(f.dir, sanitizeID(clientID)+".json")
}

func sanitizeID(id string) string {
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "x" + hex.EncodeToString([]byte(id))
		}
	}
	if id == "" {
		return "default"
	}
	return id
}

// decodeLegacy tries the unversioned v1 layout. Returns nil when the data
// does not look like a v1 token file.
func decodeLegacy(data []byte) *Tokens {
	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return nil
	}
	if t.AccessToken == "" && t.RefreshToken == "" {
		return nil
	}
	return &t
}
