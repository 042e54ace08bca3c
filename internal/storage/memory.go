package storage

import (
	"context"
	"fmt"
	"sync"

	"gatekeeper/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and scenarios where data
// persistence is not required. It provides fast access but data is lost on restart.
type MemoryStorage struct {
	mu    sync.RWMutex
	rules map[string]*models.PolicyRule // keyed by ID
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		rules: make(map[string]*models.PolicyRule),
	}, nil
}

// ListRules returns every rule ordered by endpoint, then tier
func (m *MemoryStorage) ListRules(ctx context.Context) ([]*models.PolicyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]*models.PolicyRule, 0, len(m.rules))
	for _, rule := range m.rules {
		// Return a copy to prevent external modification
		rules = append(rules, rule.Clone())
	}
	sortRules(rules)

	return rules, nil
}

// GetRule retrieves a rule by its ID
func (m *MemoryStorage) GetRule(ctx context.Context, id string) (*models.PolicyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, exists := m.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return rule.Clone(), nil
}

// GetRuleByKey retrieves the rule for an (endpoint, tier) pair
func (m *MemoryStorage) GetRuleByKey(ctx context.Context, endpoint, tier string) (*models.PolicyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rule := m.findByKey(endpoint, tier); rule != nil {
		return rule.Clone(), nil
	}
	return nil, fmt.Errorf("rule %s/%s: %w", endpoint, tier, ErrNotFound)
}

func (m *MemoryStorage) findByKey(endpoint, tier string) *models.PolicyRule {
	for _, rule := range m.rules {
		if rule.Endpoint == endpoint && rule.Tier == tier {
			return rule
		}
	}
	return nil
}

// CreateRule stores a new rule
func (m *MemoryStorage) CreateRule(ctx context.Context, rule *models.PolicyRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rules[rule.ID]; exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrDuplicate)
	}
	if m.findByKey(rule.Endpoint, rule.Tier) != nil {
		return fmt.Errorf("rule %s/%s: %w", rule.Endpoint, rule.Tier, ErrDuplicate)
	}

	// Store a copy to prevent external modification
	m.rules[rule.ID] = rule.Clone()
	return nil
}

// UpdateRule replaces the rule with the same ID
func (m *MemoryStorage) UpdateRule(ctx context.Context, rule *models.PolicyRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rules[rule.ID]; !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}
	if other := m.findByKey(rule.Endpoint, rule.Tier); other != nil && other.ID != rule.ID {
		return fmt.Errorf("rule %s/%s: %w", rule.Endpoint, rule.Tier, ErrDuplicate)
	}

	m.rules[rule.ID] = rule.Clone()
	return nil
}

// DeleteRule removes a rule by its ID
func (m *MemoryStorage) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	delete(m.rules, id)
	return nil
}

// Ping always succeeds
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close closes the storage connection and cleans up resources
func (m *MemoryStorage) Close() error {
	return nil
}
