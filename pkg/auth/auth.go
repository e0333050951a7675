// Package auth verifies the bearer API keys accepted by the control API.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid API key")
)

// KeyRegistry holds bcrypt hashes of the accepted API keys. Plain keys are
// never stored. Successful verifications are remembered by SHA-256 digest so
// only the first request with a key pays the bcrypt cost.
type KeyRegistry struct {
	mu       sync.RWMutex
	hashes   []keyHash
	verified map[[sha256.Size]byte]string
	cost     int
}

type keyHash struct {
	name string
	hash []byte
}

// NewKeyRegistry creates an empty registry. cost <= 0 uses bcrypt.DefaultCost.
func NewKeyRegistry(cost int) *KeyRegistry {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &KeyRegistry{verified: make(map[[sha256.Size]byte]string), cost: cost}
}

// Add hashes key and registers it under name.
func (r *KeyRegistry) Add(name, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), r.cost)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes = append(r.hashes, keyHash{name: name, hash: hash})
	return nil
}

// AddHash registers an already hashed key, e.g. read from configuration.
func (r *KeyRegistry) AddHash(name, hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid bcrypt hash for %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes = append(r.hashes, keyHash{name: name, hash: []byte(hash)})
	return nil
}

// Len returns the number of registered keys.
func (r *KeyRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hashes)
}

// Enabled reports whether any key is registered.
func (r *KeyRegistry) Enabled() bool {
	return r != nil && r.Len() > 0
}

// Verify returns the name of the key matching key.
func (r *KeyRegistry) Verify(key string) (string, error) {
	if key == "" {
		return "", ErrMissingKey
	}
	digest := sha256.Sum256([]byte(key))

	r.mu.RLock()
	for d, name := range r.verified {
		if subtle.ConstantTimeCompare(d[:], digest[:]) == 1 {
			r.mu.RUnlock()
			return name, nil
		}
	}
	hashes := r.hashes
	r.mu.RUnlock()

	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword(h.hash, []byte(key)) == nil {
			r.mu.Lock()
			r.verified[digest] = h.name
			r.mu.Unlock()
			return h.name, nil
		}
	}
	return "", ErrInvalidKey
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingKey
	}
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrInvalidKey
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingKey
	}
	return token, nil
}

// GenerateAPIKey returns a new random URL-safe key.
func GenerateAPIKey() (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(keyBytes), nil
}

// HashAPIKey returns the bcrypt hash to store for key.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
