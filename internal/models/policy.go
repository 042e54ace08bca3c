package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Recognised tiers. Tiers are opaque strings supplied by the identity layer;
// anything outside this set is treated as TierAnonymous.
const (
	TierAnonymous = "anonymous"
	TierStandard  = "standard"
	TierPremium   = "premium"
)

// DefaultEndpoint is the catch-all endpoint name used when no rule exists for
// a concrete request path.
const DefaultEndpoint = "default"

// ErrInvalidPolicy is wrapped by every PolicyRule validation failure.
var ErrInvalidPolicy = errors.New("invalid policy rule")

// KnownTiers returns the recognised tiers in ascending order of privilege.
func KnownTiers() []string {
	return []string{TierAnonymous, TierStandard, TierPremium}
}

// IsKnownTier reports whether tier is one of KnownTiers.
func IsKnownTier(tier string) bool {
	for _, t := range KnownTiers() {
		if t == tier {
			return true
		}
	}
	return false
}

// NormalizeTier maps unrecognised tiers to TierAnonymous.
func NormalizeTier(tier string) string {
	tier = strings.ToLower(strings.TrimSpace(tier))
	if IsKnownTier(tier) {
		return tier
	}
	return TierAnonymous
}

// PolicyRule maps an (endpoint, tier) pair to a request budget over a window.
// The pair is unique across a policy store.
type PolicyRule struct {
	ID          string    `json:"id"`
	Endpoint    string    `json:"endpoint"`
	Tier        string    `json:"tier"`
	Requests    int       `json:"requests"`
	Window      int       `json:"window"` // seconds
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewPolicyRule creates a rule with a fresh ID and timestamps.
func NewPolicyRule(endpoint, tier string, requests, window int, description string) *PolicyRule {
	now := time.Now().UTC()
	return &PolicyRule{
		ID:          uuid.New().String(),
		Endpoint:    endpoint,
		Tier:        tier,
		Requests:    requests,
		Window:      window,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the rule's fields. Failures wrap ErrInvalidPolicy.
func (r *PolicyRule) Validate() error {
	if strings.TrimSpace(r.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidPolicy)
	}
	if strings.TrimSpace(r.Tier) == "" {
		return fmt.Errorf("%w: tier is required", ErrInvalidPolicy)
	}
	return ValidateBudget(r.Requests, r.Window)
}

// MaxWindow is the longest window a rule may declare, in seconds.
const MaxWindow = 30 * 24 * 3600

// ValidateBudget rejects non-positive request counts and windows outside
// (0, MaxWindow].
func ValidateBudget(requests, window int) error {
	if requests <= 0 {
		return fmt.Errorf("%w: requests must be greater than 0", ErrInvalidPolicy)
	}
	if window <= 0 {
		return fmt.Errorf("%w: window must be greater than 0", ErrInvalidPolicy)
	}
	if window > MaxWindow {
		return fmt.Errorf("%w: window must not exceed %d seconds (30 days)", ErrInvalidPolicy, MaxWindow)
	}
	return nil
}

// WindowDuration returns the window as a time.Duration.
func (r *PolicyRule) WindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}

// WindowText renders the window for humans, e.g. "5m", "1h30m" or "1h0m5s".
// Trailing zero units are dropped.
func WindowText(window int) string {
	if window <= 0 {
		return "0s"
	}
	h, m, sec := window/3600, window%3600/60, window%60

	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if m > 0 || (h > 0 && sec > 0) {
		fmt.Fprintf(&b, "%dm", m)
	}
	if sec > 0 {
		fmt.Fprintf(&b, "%ds", sec)
	}
	return b.String()
}

// Clone returns a copy so callers cannot mutate stored rules.
func (r *PolicyRule) Clone() *PolicyRule {
	c := *r
	return &c
}
