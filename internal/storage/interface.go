package storage

import (
	"context"
	"sort"
	"time"

	"gatekeeper/internal/models"
)

// Storage defines the interface for rate limit policy persistence.
// It provides a clean abstraction that can be implemented by different backends
// such as JSON files or databases. The (endpoint, tier) pair of a rule is
// unique within a store.
type Storage interface {
	// ListRules returns every rule ordered by endpoint, then tier
	ListRules(ctx context.Context) ([]*models.PolicyRule, error)

	// GetRule retrieves a rule by its ID
	GetRule(ctx context.Context, id string) (*models.PolicyRule, error)

	// GetRuleByKey retrieves the rule for an (endpoint, tier) pair
	GetRuleByKey(ctx context.Context, endpoint, tier string) (*models.PolicyRule, error)

	// CreateRule stores a new rule. It returns ErrDuplicate when the
	// (endpoint, tier) pair is taken.
	CreateRule(ctx context.Context, rule *models.PolicyRule) error

	// UpdateRule replaces the rule with the same ID
	UpdateRule(ctx context.Context, rule *models.PolicyRule) error

	// DeleteRule removes a rule by its ID
	DeleteRule(ctx context.Context, id string) error

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, postgres, sqlite)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// CacheTTL specifies how long file-backed data is cached in memory
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`

	// MaxOpenConns caps the database connection pool. Zero keeps the driver default.
	MaxOpenConns int `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
}

func sortRules(rules []*models.PolicyRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Endpoint != rules[j].Endpoint {
			return rules[i].Endpoint < rules[j].Endpoint
		}
		return rules[i].Tier < rules[j].Tier
	})
}
