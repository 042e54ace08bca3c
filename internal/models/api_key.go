package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Permission names carried by operator keys.
const (
	PermissionRead  = "read"
	PermissionWrite = "write"
	PermissionAdmin = "admin"
)

// APIKey is an operator credential held in memory. The raw key value is never
// kept; only its SHA-256 hex hash and an 8-character display prefix are stored.
type APIKey struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	KeyHash     string    `json:"key_hash"`
	Prefix      string    `json:"prefix"`
	Permissions []string  `json:"permissions"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewAPIKey creates a new APIKey from a raw key string.
func NewAPIKey(name, rawKey string, permissions []string) *APIKey {
	prefix := rawKey
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &APIKey{
		ID:          uuid.New().String(),
		Name:        name,
		KeyHash:     HashAPIKey(rawKey),
		Prefix:      prefix,
		Permissions: permissions,
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}
}

// APIKeyFromConfig builds a key from its configuration entry, hashing the raw
// key when one is given.
func APIKeyFromConfig(kc AdminKeyConfig) *APIKey {
	var key *APIKey
	if kc.Key != "" {
		key = NewAPIKey(kc.Name, kc.Key, kc.Permissions)
	} else {
		key = &APIKey{
			ID:          uuid.New().String(),
			Name:        kc.Name,
			KeyHash:     strings.ToLower(kc.KeyHash),
			Permissions: kc.Permissions,
			CreatedAt:   time.Now().UTC(),
		}
	}
	key.Enabled = kc.Enabled
	return key
}

// GenerateAPIKey produces a new random API key in the format gk_<44 url-safe base64 chars>.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 33) // 33 bytes → 44 base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "gk_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey computes the SHA-256 hex digest of a raw API key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// HasPermission returns true when the key is enabled and possesses the required permission.
func (ak *APIKey) HasPermission(required string) bool {
	if !ak.Enabled {
		return false
	}
	for _, p := range ak.Permissions {
		switch p {
		case "*", PermissionAdmin:
			return true
		case PermissionWrite:
			if required == PermissionRead || required == PermissionWrite {
				return true
			}
		case required:
			return true
		}
	}
	return false
}
