// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Rich error information with codes and details for debugging
// - Helper methods for easy response construction
package models

import (
	"fmt"
	"sort"
	"time"
)

// RateLimitExceededResponse is the body of every 429 produced by the
// admission middleware.
type RateLimitExceededResponse struct {
	Detail string `json:"detail"`
}

// NewRateLimitExceededResponse formats the rejection message for retryAfter seconds.
func NewRateLimitExceededResponse(retryAfter int64) *RateLimitExceededResponse {
	return &RateLimitExceededResponse{
		Detail: fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter),
	}
}

// BucketStats describes one live bucket of an identifier.
type BucketStats struct {
	Count        int64 `json:"count"`
	TTLRemaining int64 `json:"ttl_remaining"` // seconds, -1 when the bucket has no expiry
}

type StatsResponse struct {
	Identifier string                 `json:"identifier"`
	Endpoints  map[string]BucketStats `json:"endpoints"`
}

type ClearResponse struct {
	Message    string `json:"message"`
	Identifier string `json:"identifier,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	Cleared    int64  `json:"cleared"`
}

// PolicyRuleRequest is the body accepted by rule create and update calls.
// Update requests may omit Endpoint and Tier.
type PolicyRuleRequest struct {
	Endpoint    string `json:"endpoint"`
	Tier        string `json:"tier"`
	Requests    int    `json:"requests"`
	Window      int    `json:"window"`
	Description string `json:"description,omitempty"`
}

type PolicyRuleResponse struct {
	ID          string    `json:"id"`
	Endpoint    string    `json:"endpoint"`
	Tier        string    `json:"tier"`
	Requests    int       `json:"requests"`
	Window      int       `json:"window"`
	WindowText  string    `json:"window_text"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (pr *PolicyRuleResponse) FromRule(rule *PolicyRule) {
	pr.ID = rule.ID
	pr.Endpoint = rule.Endpoint
	pr.Tier = rule.Tier
	pr.Requests = rule.Requests
	pr.Window = rule.Window
	pr.WindowText = WindowText(rule.Window)
	pr.Description = rule.Description
	pr.CreatedAt = rule.CreatedAt
	pr.UpdatedAt = rule.UpdatedAt
}

// ListPolicyRulesResponse groups rules by endpoint, tiers in KnownTiers order
// followed by any other tier alphabetically.
type ListPolicyRulesResponse struct {
	Rules      map[string][]PolicyRuleResponse `json:"rules"`
	TotalCount int                             `json:"total_count"`
}

func NewListPolicyRulesResponse(rules []*PolicyRule) *ListPolicyRulesResponse {
	resp := &ListPolicyRulesResponse{
		Rules:      make(map[string][]PolicyRuleResponse),
		TotalCount: len(rules),
	}
	for _, rule := range rules {
		var pr PolicyRuleResponse
		pr.FromRule(rule)
		resp.Rules[rule.Endpoint] = append(resp.Rules[rule.Endpoint], pr)
	}
	for endpoint := range resp.Rules {
		group := resp.Rules[endpoint]
		sort.SliceStable(group, func(i, j int) bool {
			ri, rj := tierRank(group[i].Tier), tierRank(group[j].Tier)
			if ri != rj {
				return ri < rj
			}
			return group[i].Tier < group[j].Tier
		})
	}
	return resp
}

func tierRank(tier string) int {
	for i, t := range KnownTiers() {
		if t == tier {
			return i
		}
	}
	return len(KnownTiers())
}

// EndpointUsage is one row of the caller status response.
type EndpointUsage struct {
	Limit     int    `json:"limit"`
	Window    string `json:"window"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Reset     int64  `json:"reset,omitempty"`
}

type RateLimitStatusResponse struct {
	Identifier string                   `json:"identifier"`
	Tier       string                   `json:"tier"`
	Limits     map[string]EndpointUsage `json:"limits"`
	FailOpen   bool                     `json:"fail_open,omitempty"`
}

type TierLimit struct {
	Requests int    `json:"requests"`
	Window   string `json:"window"`
}

type TierInfo struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Limits      map[string]TierLimit `json:"limits"`
	Features    []string             `json:"features,omitempty"`
}

type TiersResponse struct {
	Tiers []TierInfo `json:"tiers"`
}

// ErrorResponse provides structured error information with debugging context.
//
// Error Handling Design:
// - Consistent error structure across all endpoints
// - Machine-readable error codes for programmatic handling
// - Human-readable messages for user interfaces
// - Details map for field-specific validation errors
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health Status Constants
//
// - Healthy: All systems operational
// - Degraded: Window store unreachable, traffic admitted fail-open
// - Unhealthy: Major issues affecting core functionality
// - Unknown: Health status cannot be determined
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusUnknown   = "unknown"
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeRuleNotFound       = "RULE_NOT_FOUND"      // 404: Policy rule doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeInvalidPolicy      = "INVALID_POLICY"      // 400: Rule fails validation
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeConflict           = "CONFLICT"            // 409: Resource conflict
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: Upstream unreachable
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
