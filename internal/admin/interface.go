package admin

import (
	"context"

	"gatekeeper/internal/identity"
	"gatekeeper/internal/models"
)

// ServiceInterface defines the operations behind the admin and caller-facing
// rate limit endpoints
type ServiceInterface interface {
	// ListRules returns every policy rule grouped by endpoint
	ListRules(ctx context.Context) (*models.ListPolicyRulesResponse, error)

	// GetRule returns a single rule by ID
	GetRule(ctx context.Context, id string) (*models.PolicyRuleResponse, error)

	// CreateRule validates and stores a new rule
	CreateRule(ctx context.Context, req *models.PolicyRuleRequest) (*models.PolicyRuleResponse, error)

	// UpdateRule changes an existing rule's budget
	UpdateRule(ctx context.Context, id string, req *models.PolicyRuleRequest) (*models.PolicyRuleResponse, error)

	// DeleteRule removes a rule
	DeleteRule(ctx context.Context, id string) error

	// Stats lists the live buckets of an identifier
	Stats(ctx context.Context, identifier string) (*models.StatsResponse, error)

	// Clear resets buckets selected by identifier and endpoint
	Clear(ctx context.Context, identifier, endpoint string) (*models.ClearResponse, error)

	// Status reports the caller's usage of the well-known endpoints
	Status(ctx context.Context, id identity.Identity) (*models.RateLimitStatusResponse, error)

	// Tiers describes the budgets of every recognised tier
	Tiers(ctx context.Context) (*models.TiersResponse, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
