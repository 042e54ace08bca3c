package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/models"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_rules (
	id             TEXT PRIMARY KEY,
	endpoint       TEXT NOT NULL,
	tier           TEXT NOT NULL,
	requests       INTEGER NOT NULL CHECK (requests > 0),
	window_seconds INTEGER NOT NULL CHECK (window_seconds > 0),
	description    TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	UNIQUE (endpoint, tier)
);
CREATE INDEX IF NOT EXISTS idx_rate_limit_rules_endpoint ON rate_limit_rules (endpoint);
`

const sqliteColumns = `id, endpoint, tier, requests, window_seconds, description, created_at, updated_at`

// SQLiteStorage stores rules in a single SQLite table. It suits single-node
// deployments that want rules to survive restarts without running a database server.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and creates the schema if needed
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// ListRules returns every rule ordered by endpoint, then tier
func (ss *SQLiteStorage) ListRules(ctx context.Context) ([]*models.PolicyRule, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM rate_limit_rules ORDER BY endpoint, tier`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := []*models.PolicyRule{}
	for rows.Next() {
		rule, err := scanSQLiteRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// GetRule retrieves a rule by its ID
func (ss *SQLiteStorage) GetRule(ctx context.Context, id string) (*models.PolicyRule, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM rate_limit_rules WHERE id = ?`, id)
	rule, err := scanSQLiteRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return rule, err
}

// GetRuleByKey retrieves the rule for an (endpoint, tier) pair
func (ss *SQLiteStorage) GetRuleByKey(ctx context.Context, endpoint, tier string) (*models.PolicyRule, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM rate_limit_rules WHERE endpoint = ? AND tier = ?`, endpoint, tier)
	rule, err := scanSQLiteRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s/%s: %w", endpoint, tier, ErrNotFound)
	}
	return rule, err
}

// CreateRule stores a new rule
func (ss *SQLiteStorage) CreateRule(ctx context.Context, rule *models.PolicyRule) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO rate_limit_rules (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Endpoint, rule.Tier, rule.Requests, rule.Window, rule.Description,
		formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("rule %s/%s: %w", rule.Endpoint, rule.Tier, ErrDuplicate)
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// UpdateRule replaces the rule with the same ID
func (ss *SQLiteStorage) UpdateRule(ctx context.Context, rule *models.PolicyRule) error {
	res, err := ss.db.ExecContext(ctx,
		`UPDATE rate_limit_rules
		 SET endpoint = ?, tier = ?, requests = ?, window_seconds = ?, description = ?, updated_at = ?
		 WHERE id = ?`,
		rule.Endpoint, rule.Tier, rule.Requests, rule.Window, rule.Description,
		formatTime(rule.UpdatedAt), rule.ID)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("rule %s/%s: %w", rule.Endpoint, rule.Tier, ErrDuplicate)
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return requireAffected(res, rule.ID)
}

// DeleteRule removes a rule by its ID
func (ss *SQLiteStorage) DeleteRule(ctx context.Context, id string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM rate_limit_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	return requireAffected(res, id)
}

// Ping verifies the database is reachable
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRule(row rowScanner) (*models.PolicyRule, error) {
	var (
		rule             models.PolicyRule
		created, updated string
	)
	err := row.Scan(&rule.ID, &rule.Endpoint, &rule.Tier, &rule.Requests, &rule.Window,
		&rule.Description, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	if rule.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("rule %s has invalid created_at: %w", rule.ID, err)
	}
	if rule.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("rule %s has invalid updated_at: %w", rule.ID, err)
	}
	return &rule, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
