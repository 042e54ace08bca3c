// Package identity maps an inbound request to the principal being throttled.
// Valid bearer tokens yield user:<sub> with the token's tier; anything else
// degrades to ip:<addr> in the anonymous tier. Resolution never rejects.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"gatekeeper/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredentials wraps every token that is present but unusable.
var ErrInvalidCredentials = errors.New("invalid credentials")

var errNoCredentials = errors.New("no credentials")

// Identity is the throttled principal.
type Identity struct {
	Identifier    string `json:"identifier"`
	Tier          string `json:"tier"`
	Authenticated bool   `json:"authenticated"`
}

// Resolver maps a request to an Identity.
type Resolver interface {
	Resolve(r *http.Request) Identity
}

// Claims carried by gatekeeper-compatible access tokens.
type Claims struct {
	Tier string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 bearer tokens.
type JWTResolver struct {
	secret     []byte
	trustProxy bool
	parser     *jwt.Parser
}

// NewJWTResolver creates a resolver. An empty secret disables token
// verification and every request is identified by address.
func NewJWTResolver(secret string, trustProxyHeaders bool) *JWTResolver {
	return &JWTResolver{
		secret:     []byte(secret),
		trustProxy: trustProxyHeaders,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (j *JWTResolver) Resolve(r *http.Request) Identity {
	id, err := j.fromRequest(r)
	if err == nil {
		return id
	}
	if !errors.Is(err, errNoCredentials) {
		slog.Debug("Identity resolution failed, treating request as anonymous",
			"path", r.URL.Path,
			"error", err)
	}
	return Anonymous(ClientIP(r, j.trustProxy))
}

// Anonymous returns the address-based identity.
func Anonymous(addr string) Identity {
	return Identity{
		Identifier: "ip:" + addr,
		Tier:       models.TierAnonymous,
	}
}

func (j *JWTResolver) fromRequest(r *http.Request) (Identity, error) {
	if len(j.secret) == 0 {
		return Identity{}, errNoCredentials
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return Identity{}, errNoCredentials
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return Identity{}, fmt.Errorf("%w: malformed authorization header", ErrInvalidCredentials)
	}
	return j.Parse(strings.TrimSpace(token))
}

// Parse verifies a raw token and extracts the identity it carries.
func (j *JWTResolver) Parse(raw string) (Identity, error) {
	claims := &Claims{}
	_, err := j.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}

	tier := strings.ToLower(strings.TrimSpace(claims.Tier))
	if tier == "" {
		tier = models.TierStandard
	}
	return Identity{
		Identifier:    "user:" + claims.Subject,
		Tier:          tier,
		Authenticated: true,
	}, nil
}

// ClientIP extracts the caller address. Forwarding headers are honoured only
// when trustProxy is set, since clients can forge them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by NewContext.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
