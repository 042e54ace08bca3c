package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gatekeeper/internal/models"
)

// JSONStorage implements the Storage interface using a JSON file for persistence.
// It provides an in-memory cache for performance and supports concurrent access.
// Edits made to the file by hand are picked up once the cache expires.
type JSONStorage struct {
	filePath     string
	cacheTTL     time.Duration
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Rules       []*models.PolicyRule `json:"rules"`
	LastUpdated time.Time            `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	cacheTTL := 5 * time.Minute
	if config.CacheTTL > 0 {
		cacheTTL = config.CacheTTL
	}

	storage := &JSONStorage{
		filePath: config.Path,
		cacheTTL: cacheTTL,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	// Load initial data
	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		return j.saveData(&JSONData{Rules: []*models.PolicyRule{}})
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// If the file hasn't changed, extend the cache and return.
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(j.cacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(j.cacheTTL)
	return nil
}

// saveData writes data to a temporary file and renames it over the original
// so readers never observe a partial write. Callers hold the write lock.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	return nil
}

// ListRules returns every rule ordered by endpoint, then tier
func (j *JSONStorage) ListRules(ctx context.Context) ([]*models.PolicyRule, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	rules := make([]*models.PolicyRule, len(j.data.Rules))
	for i, rule := range j.data.Rules {
		rules[i] = rule.Clone()
	}
	sortRules(rules)
	return rules, nil
}

// GetRule retrieves a rule by its ID
func (j *JSONStorage) GetRule(ctx context.Context, id string) (*models.PolicyRule, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if i := j.indexOf(id); i >= 0 {
		return j.data.Rules[i].Clone(), nil
	}
	return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
}

// GetRuleByKey retrieves the rule for an (endpoint, tier) pair
func (j *JSONStorage) GetRuleByKey(ctx context.Context, endpoint, tier string) (*models.PolicyRule, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if i := j.indexOfKey(endpoint, tier); i >= 0 {
		return j.data.Rules[i].Clone(), nil
	}
	return nil, fmt.Errorf("rule %s/%s: %w", endpoint, tier, ErrNotFound)
}

// CreateRule stores a new rule
func (j *JSONStorage) CreateRule(ctx context.Context, rule *models.PolicyRule) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.indexOf(rule.ID) >= 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrDuplicate)
	}
	if j.indexOfKey(rule.Endpoint, rule.Tier) >= 0 {
		return fmt.Errorf("rule %s/%s: %w", rule.Endpoint, rule.Tier, ErrDuplicate)
	}

	j.data.Rules = append(j.data.Rules, rule.Clone())
	return j.saveData(j.data)
}

// UpdateRule replaces the rule with the same ID
func (j *JSONStorage) UpdateRule(ctx context.Context, rule *models.PolicyRule) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	i := j.indexOf(rule.ID)
	if i < 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}
	if k := j.indexOfKey(rule.Endpoint, rule.Tier); k >= 0 && k != i {
		return fmt.Errorf("rule %s/%s: %w", rule.Endpoint, rule.Tier, ErrDuplicate)
	}

	j.data.Rules[i] = rule.Clone()
	return j.saveData(j.data)
}

// DeleteRule removes a rule by its ID
func (j *JSONStorage) DeleteRule(ctx context.Context, id string) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	i := j.indexOf(id)
	if i < 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}

	j.data.Rules = append(j.data.Rules[:i], j.data.Rules[i+1:]...)
	return j.saveData(j.data)
}

func (j *JSONStorage) indexOf(id string) int {
	for i, rule := range j.data.Rules {
		if rule.ID == id {
			return i
		}
	}
	return -1
}

func (j *JSONStorage) indexOfKey(endpoint, tier string) int {
	for i, rule := range j.data.Rules {
		if rule.Endpoint == endpoint && rule.Tier == tier {
			return i
		}
	}
	return -1
}

// Ping checks that the backing file is still readable
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return nil
}

// Close closes the storage connection and cleans up resources
func (j *JSONStorage) Close() error {
	return nil
}
