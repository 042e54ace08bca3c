// Package admin implements the rate limit administration operations: policy
// rule management, bucket inspection and reset, and the caller-facing status
// and tier catalogue.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gatekeeper/internal/identity"
	"gatekeeper/internal/models"
	"gatekeeper/internal/policy"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/storage"
)

var tierDescriptions = map[string]string{
	models.TierAnonymous: "Unauthenticated requests, identified by client address",
	models.TierStandard:  "Authenticated users",
	models.TierPremium:   "Premium subscribers",
}

var tierFeatures = map[string][]string{
	models.TierPremium: {"10x higher rate limits", "Priority API access", "Advanced analytics"},
}

// Service handles rule management and limiter inspection
type Service struct {
	storage  storage.Storage
	limiter  *ratelimit.Limiter
	policies *policy.Resolver
	now      func() time.Time
}

// NewService creates a new admin service. Rule writes go to storage and
// invalidate the resolver's cache so they apply to the next request.
func NewService(storage storage.Storage, limiter *ratelimit.Limiter, policies *policy.Resolver) *Service {
	return &Service{
		storage:  storage,
		limiter:  limiter,
		policies: policies,
		now:      time.Now,
	}
}

// ListRules returns every policy rule grouped by endpoint
func (s *Service) ListRules(ctx context.Context) (*models.ListPolicyRulesResponse, error) {
	rules, err := s.storage.ListRules(ctx)
	if err != nil {
		return nil, NewInternalError("failed to list rules", err)
	}
	return models.NewListPolicyRulesResponse(rules), nil
}

// GetRule returns a single rule by ID
func (s *Service) GetRule(ctx context.Context, id string) (*models.PolicyRuleResponse, error) {
	rule, err := s.storage.GetRule(ctx, id)
	if err != nil {
		return nil, s.storageError(id, err)
	}

	var resp models.PolicyRuleResponse
	resp.FromRule(rule)
	return &resp, nil
}

// CreateRule validates and stores a new rule. Tiers are lowercased; a tier
// outside the built-in set becomes recognised once a rule names it.
func (s *Service) CreateRule(ctx context.Context, req *models.PolicyRuleRequest) (*models.PolicyRuleResponse, error) {
	if req == nil {
		return nil, NewInvalidRequestError("request body is required", nil)
	}

	rule := models.NewPolicyRule(
		strings.TrimSpace(req.Endpoint),
		strings.ToLower(strings.TrimSpace(req.Tier)),
		req.Requests,
		req.Window,
		req.Description,
	)
	if err := rule.Validate(); err != nil {
		return nil, NewInvalidPolicyError(err)
	}

	if err := s.storage.CreateRule(ctx, rule); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, NewConflictError("a rule for this endpoint and tier already exists", err)
		}
		return nil, NewInternalError("failed to create rule", err)
	}
	s.policies.Invalidate()

	slog.Info("Rate limit rule created",
		"rule_id", rule.ID,
		"endpoint", rule.Endpoint,
		"tier", rule.Tier,
		"requests", rule.Requests,
		"window", rule.Window)

	var resp models.PolicyRuleResponse
	resp.FromRule(rule)
	return &resp, nil
}

// UpdateRule changes an existing rule. Requests and window are required;
// endpoint, tier and description are changed only when supplied.
func (s *Service) UpdateRule(ctx context.Context, id string, req *models.PolicyRuleRequest) (*models.PolicyRuleResponse, error) {
	if req == nil {
		return nil, NewInvalidRequestError("request body is required", nil)
	}
	if err := models.ValidateBudget(req.Requests, req.Window); err != nil {
		return nil, NewInvalidPolicyError(err)
	}

	rule, err := s.storage.GetRule(ctx, id)
	if err != nil {
		return nil, s.storageError(id, err)
	}

	previous := *rule
	rule.Requests = req.Requests
	rule.Window = req.Window
	if endpoint := strings.TrimSpace(req.Endpoint); endpoint != "" {
		rule.Endpoint = endpoint
	}
	if tier := strings.ToLower(strings.TrimSpace(req.Tier)); tier != "" {
		rule.Tier = tier
	}
	if req.Description != "" {
		rule.Description = req.Description
	}
	rule.UpdatedAt = s.now().UTC()

	if err := s.storage.UpdateRule(ctx, rule); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, NewConflictError("a rule for this endpoint and tier already exists", err)
		}
		return nil, s.storageError(id, err)
	}
	s.policies.Invalidate()

	slog.Info("Rate limit rule updated",
		"rule_id", rule.ID,
		"endpoint", rule.Endpoint,
		"tier", rule.Tier,
		"old_requests", previous.Requests,
		"requests", rule.Requests,
		"old_window", previous.Window,
		"window", rule.Window)

	var resp models.PolicyRuleResponse
	resp.FromRule(rule)
	return &resp, nil
}

// DeleteRule removes a rule. Requests it governed fall back to the default
// rule or the built-in table.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.storage.DeleteRule(ctx, id); err != nil {
		return s.storageError(id, err)
	}
	s.policies.Invalidate()

	slog.Info("Rate limit rule deleted", "rule_id", id)
	return nil
}

func (s *Service) storageError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewRuleNotFoundError(id)
	}
	return NewInternalError("rule storage failed", err)
}

// Stats lists the live buckets of an identifier
func (s *Service) Stats(ctx context.Context, identifier string) (*models.StatsResponse, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, NewInvalidRequestError("identifier is required", nil)
	}

	usage, err := s.limiter.Stats(ctx, identifier)
	if err != nil {
		return nil, NewUnavailableError("rate limit store unavailable", err)
	}

	resp := &models.StatsResponse{
		Identifier: identifier,
		Endpoints:  make(map[string]models.BucketStats, len(usage)),
	}
	for endpoint, u := range usage {
		ttl := int64(-1)
		if u.TTLRemaining >= 0 {
			ttl = int64(u.TTLRemaining.Seconds())
		}
		resp.Endpoints[endpoint] = models.BucketStats{Count: u.Count, TTLRemaining: ttl}
	}
	return resp, nil
}

// Clear resets one bucket when both arguments are set, all of identifier's
// buckets when only it is set, and every bucket when neither is.
func (s *Service) Clear(ctx context.Context, identifier, endpoint string) (*models.ClearResponse, error) {
	identifier = strings.TrimSpace(identifier)
	endpoint = strings.TrimSpace(endpoint)

	n, err := s.limiter.Clear(ctx, identifier, endpoint)
	if err != nil {
		if errors.Is(err, ratelimit.ErrEndpointWithoutIdentifier) {
			return nil, NewInvalidRequestError("identifier is required when endpoint is given", err)
		}
		return nil, NewUnavailableError("rate limit store unavailable", err)
	}

	var message string
	switch {
	case endpoint != "":
		message = "Rate limit cleared for " + identifier + " on " + endpoint
	case identifier != "":
		message = "Rate limits cleared for " + identifier
	default:
		message = "All rate limits cleared"
	}

	slog.Warn("Rate limits cleared",
		"identifier", identifier,
		"endpoint", endpoint,
		"buckets", n)

	return &models.ClearResponse{
		Message:    message,
		Identifier: identifier,
		Endpoint:   endpoint,
		Cleared:    n,
	}, nil
}

// Status reports the caller's budget and usage for the well-known endpoints.
// The default row carries the budget only since it has no bucket of its own.
// Usage is read without recording an event.
func (s *Service) Status(ctx context.Context, id identity.Identity) (*models.RateLimitStatusResponse, error) {
	endpoints := s.policies.Static().Endpoints()

	resp := &models.RateLimitStatusResponse{
		Identifier: id.Identifier,
		Tier:       models.NormalizeTier(id.Tier),
		Limits:     make(map[string]models.EndpointUsage, len(endpoints)+1),
	}

	for _, endpoint := range endpoints {
		res := s.policies.Resolve(ctx, endpoint, id.Tier)
		resp.Tier = res.Tier

		usage := models.EndpointUsage{
			Limit:     res.Requests,
			Window:    models.WindowText(int(res.Window.Seconds())),
			Remaining: int64(res.Requests),
		}

		snap, err := s.limiter.Peek(ctx, id.Identifier, endpoint, res.Window)
		if err != nil {
			resp.FailOpen = true
			slog.Debug("Status lookup could not read bucket", "endpoint", endpoint, "error", err)
		} else {
			usage.Used = snap.Count
			usage.Remaining = max(0, int64(res.Requests)-snap.Count)
			if snap.Count > 0 {
				usage.Reset = snap.Oldest.Add(res.Window).Unix()
			}
		}
		resp.Limits[endpoint] = usage
	}

	def := s.policies.Resolve(ctx, models.DefaultEndpoint, id.Tier)
	resp.Limits[models.DefaultEndpoint] = models.EndpointUsage{
		Limit:     def.Requests,
		Window:    models.WindowText(int(def.Window.Seconds())),
		Remaining: int64(def.Requests),
	}

	return resp, nil
}

// Tiers describes the effective budgets of every recognised tier
func (s *Service) Tiers(ctx context.Context) (*models.TiersResponse, error) {
	endpoints := append(s.policies.Static().Endpoints(), models.DefaultEndpoint)

	resp := &models.TiersResponse{}
	for _, tier := range models.KnownTiers() {
		info := models.TierInfo{
			Name:        tier,
			Description: tierDescriptions[tier],
			Limits:      make(map[string]models.TierLimit, len(endpoints)),
			Features:    tierFeatures[tier],
		}
		for _, endpoint := range endpoints {
			res := s.policies.Resolve(ctx, endpoint, tier)
			info.Limits[endpoint] = models.TierLimit{
				Requests: res.Requests,
				Window:   models.WindowText(int(res.Window.Seconds())),
			}
		}
		resp.Tiers = append(resp.Tiers, info)
	}
	return resp, nil
}
