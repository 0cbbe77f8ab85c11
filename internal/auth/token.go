// Package auth manages the worker's bearer token: first-run generation,
// file hygiene, and timing-safe verification (§4.10).
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// TokenByteLength is the number of random bytes used to generate the auth
// token (encoded as hex, producing a 64-character token).
const TokenByteLength = 32

// defaultHMACKey is the build-time fallback used to sign observation HMACs
// before an auth token exists on disk (§9 open question: permanent degraded
// mode, chosen over fail-closed — see DESIGN.md).
const defaultHMACKey = "cmem-worker-default-hmac-key-v1"

// Manager owns the on-disk token path and the loaded token value.
type Manager struct {
	path  string
	token string
}

// EnsureToken loads the token at path, generating and persisting a fresh
// 32-byte random hex token (mode 0600, in a 0700 directory) if none exists
// yet. Mirrors the teacher's "ensure state exists on first run" posture
// (config.Initialize create-if-missing semantics), applied to a bearer
// token instead of YAML config.
func EnsureToken(path string) (*Manager, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating auth token directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		token := string(data)
		if token == "" {
			return nil, errors.New("auth token file is empty")
		}
		return &Manager{path: path, token: token}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading auth token: %w", err)
	}

	raw := make([]byte, TokenByteLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating auth token: %w", err)
	}
	token := hex.EncodeToString(raw)

	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return nil, fmt.Errorf("writing auth token: %w", err)
	}
	slog.Info("Generated new auth token", "path", path)

	return &Manager{path: path, token: token}, nil
}

// Token returns the loaded token value.
func (m *Manager) Token() string {
	return m.token
}

// Path returns the on-disk token path.
func (m *Manager) Path() string {
	return m.path
}

// Verify performs a constant-time comparison of candidate against the
// loaded token.
func (m *Manager) Verify(candidate string) bool {
	if len(candidate) != len(m.token) {
		// Still run a constant-time compare against a same-length dummy so
		// the function's timing doesn't leak the real token's length.
		hmac.Equal([]byte(candidate), []byte(candidate))
		return false
	}
	return hmac.Equal([]byte(candidate), []byte(m.token))
}

// HMACKey returns the key used to sign observation HMACs: the on-disk
// token if present, else the build-time default (§3, §9).
func (m *Manager) HMACKey() []byte {
	if m == nil || m.token == "" {
		return []byte(defaultHMACKey)
	}
	return []byte(m.token)
}

// DefaultHMACKey exposes the build-time fallback for callers (e.g. Store)
// constructed before a Manager exists, such as migration-time defaults.
func DefaultHMACKey() []byte {
	return []byte(defaultHMACKey)
}
