package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"gatekeeper/internal/models"

	"github.com/gorilla/mux"
)

// Permission represents the different permission levels
type Permission string

const (
	PermissionRead  Permission = models.PermissionRead
	PermissionWrite Permission = models.PermissionWrite
	PermissionAdmin Permission = models.PermissionAdmin
)

type apiKeyContextKey struct{}

// Keyring holds the operator keys accepted by the admin API, indexed by the
// SHA-256 hash of the raw key.
type Keyring struct {
	keys map[string]*models.APIKey
}

// NewKeyring builds the keyring from configured admin keys.
func NewKeyring(cfg models.SecurityConfig) *Keyring {
	k := &Keyring{keys: make(map[string]*models.APIKey, len(cfg.AdminKeys))}
	for _, kc := range cfg.AdminKeys {
		ak := models.APIKeyFromConfig(kc)
		k.keys[ak.KeyHash] = ak
	}
	return k
}

// Lookup returns the enabled key matching rawKey.
func (k *Keyring) Lookup(rawKey string) (*models.APIKey, bool) {
	if k == nil || rawKey == "" {
		return nil, false
	}
	ak, ok := k.keys[models.HashAPIKey(rawKey)]
	if !ok || !ak.Enabled {
		return nil, false
	}
	return ak, true
}

// SecurityContext represents the security information for a request
type SecurityContext struct {
	APIKey      *models.APIKey
	Permissions []string
}

// HasPermission checks if the security context has the required permission.
// admin implies write, write implies read.
func (sc *SecurityContext) HasPermission(required Permission) bool {
	if sc == nil || sc.APIKey == nil {
		return false
	}
	return sc.APIKey.HasPermission(string(required))
}

// GetSecurityContext extracts security context from request context
func GetSecurityContext(r *http.Request) *SecurityContext {
	if apiKey, ok := r.Context().Value(apiKeyContextKey{}).(*models.APIKey); ok {
		return &SecurityContext{
			APIKey:      apiKey,
			Permissions: apiKey.Permissions,
		}
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, prefix) {
		return "", false
	}
	return strings.TrimSpace(authHeader[len(prefix):]), true
}

// authMiddleware rejects requests that do not carry a known operator key.
func authMiddleware(keys *Keyring) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				writeMiddlewareError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Authorization required")
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				writeMiddlewareError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid authorization format")
				return
			}
			validKey, ok := keys.Lookup(token)
			if !ok {
				writeMiddlewareError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid API key")
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyContextKey{}, validKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission creates middleware that enforces a specific permission
func RequirePermission(required Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			securityContext := GetSecurityContext(r)
			if securityContext == nil || !securityContext.HasPermission(required) {
				writeMiddlewareError(w, http.StatusForbidden, models.ErrorCodeForbidden,
					"Insufficient permissions for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OptionalAuth attaches the operator key to the request when a valid one is
// presented. Invalid or missing credentials are ignored.
func OptionalAuth(keys *Keyring) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			validKey, ok := keys.Lookup(token)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyContextKey{}, validKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeMiddlewareError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.NewErrorResponse(message, code))
}
