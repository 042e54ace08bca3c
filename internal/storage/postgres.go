package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_rules (
	id             TEXT PRIMARY KEY,
	endpoint       TEXT NOT NULL,
	tier           TEXT NOT NULL,
	requests       INTEGER NOT NULL CHECK (requests > 0),
	window_seconds INTEGER NOT NULL CHECK (window_seconds > 0),
	description    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	CONSTRAINT rate_limit_rules_endpoint_tier_key UNIQUE (endpoint, tier)
);
CREATE INDEX IF NOT EXISTS idx_rate_limit_rules_endpoint ON rate_limit_rules (endpoint);
`

const postgresColumns = `id, endpoint, tier, requests, window_seconds, description, created_at, updated_at`

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresStorage implements the Storage interface using PostgreSQL.
// Several gatekeeper instances can share one database; each picks up changes
// when its policy cache expires.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects, verifies the connection and creates the schema if needed.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// ListRules returns every rule ordered by endpoint, then tier.
func (ps *PostgresStorage) ListRules(ctx context.Context) ([]*models.PolicyRule, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT `+postgresColumns+` FROM rate_limit_rules ORDER BY endpoint, tier`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.PolicyRule, error) {
		return scanPgRule(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// GetRule retrieves a rule by its ID.
func (ps *PostgresStorage) GetRule(ctx context.Context, id string) (*models.PolicyRule, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM rate_limit_rules WHERE id = $1`, id)
	rule, err := scanPgRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// GetRuleByKey retrieves the rule for an (endpoint, tier) pair.
func (ps *PostgresStorage) GetRuleByKey(ctx context.Context, endpoint, tier string) (*models.PolicyRule, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM rate_limit_rules WHERE endpoint = $1 AND tier = $2`, endpoint, tier)
	rule, err := scanPgRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rule %s/%s: %w", endpoint, tier, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// CreateRule stores a new rule.
func (ps *PostgresStorage) CreateRule(ctx context.Context, rule *models.PolicyRule) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO rate_limit_rules (`+postgresColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rule.ID, rule.Endpoint, rule.Tier, rule.Requests, rule.Window, rule.Description,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("rule %s/%s: %w", rule.Endpoint, rule.Tier, ErrDuplicate)
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// UpdateRule replaces the rule with the same ID.
func (ps *PostgresStorage) UpdateRule(ctx context.Context, rule *models.PolicyRule) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE rate_limit_rules
		 SET endpoint = $2, tier = $3, requests = $4, window_seconds = $5, description = $6, updated_at = $7
		 WHERE id = $1`,
		rule.ID, rule.Endpoint, rule.Tier, rule.Requests, rule.Window, rule.Description, rule.UpdatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("rule %s/%s: %w", rule.Endpoint, rule.Tier, ErrDuplicate)
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}
	return nil
}

// DeleteRule removes a rule by its ID.
func (ps *PostgresStorage) DeleteRule(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM rate_limit_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

// Ping verifies the database is reachable.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func scanPgRule(row pgx.Row) (*models.PolicyRule, error) {
	var rule models.PolicyRule
	err := row.Scan(&rule.ID, &rule.Endpoint, &rule.Tier, &rule.Requests, &rule.Window,
		&rule.Description, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
