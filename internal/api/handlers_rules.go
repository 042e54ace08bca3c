package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"gatekeeper/internal/models"

	"github.com/gorilla/mux"
)

// ListRules handles rule listing requests
// GET /api/v1/admin/rate-limits
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.ListRules(r.Context())
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetRule handles single rule requests
// GET /api/v1/admin/rate-limits/{id}
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	response, err := h.service.GetRule(r.Context(), id)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// CreateRule handles rule creation requests
// POST /api/v1/admin/rate-limits
// Requires 'write' permission
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	securityContext := GetSecurityContext(r)

	slog.Warn("Rate limit rule creation attempt",
		"event", "security_audit",
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	req, ok := h.decodeRuleRequest(w, r)
	if !ok {
		return
	}

	response, err := h.service.CreateRule(r.Context(), req)
	if err != nil {
		slog.Warn("Rate limit rule creation failed",
			"event", "security_audit",
			"endpoint", req.Endpoint,
			"tier", req.Tier,
			"api_key", getAPIKeyName(securityContext),
			"error", err.Error())
		h.writeServiceErrorResponse(w, err)
		return
	}

	slog.Info("Rate limit rule created successfully",
		"event", "security_audit",
		"rule_id", response.ID,
		"api_key", getAPIKeyName(securityContext))

	h.writeJSONResponse(w, http.StatusCreated, response)
}

// UpdateRule handles rule update requests
// PUT /api/v1/admin/rate-limits/{id}
// Requires 'write' permission
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	securityContext := GetSecurityContext(r)

	slog.Warn("Rate limit rule update attempt",
		"event", "security_audit",
		"rule_id", id,
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	req, ok := h.decodeRuleRequest(w, r)
	if !ok {
		return
	}

	response, err := h.service.UpdateRule(r.Context(), id, req)
	if err != nil {
		slog.Warn("Rate limit rule update failed",
			"event", "security_audit",
			"rule_id", id,
			"api_key", getAPIKeyName(securityContext),
			"error", err.Error())
		h.writeServiceErrorResponse(w, err)
		return
	}

	slog.Info("Rate limit rule updated successfully",
		"event", "security_audit",
		"rule_id", id,
		"api_key", getAPIKeyName(securityContext))

	h.writeJSONResponse(w, http.StatusOK, response)
}

// DeleteRule handles rule deletion requests
// DELETE /api/v1/admin/rate-limits/{id}
// Requires 'admin' permission
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	securityContext := GetSecurityContext(r)

	slog.Warn("Rate limit rule deletion attempt",
		"event", "security_audit",
		"rule_id", id,
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	if err := h.service.DeleteRule(r.Context(), id); err != nil {
		slog.Warn("Rate limit rule deletion failed",
			"event", "security_audit",
			"rule_id", id,
			"api_key", getAPIKeyName(securityContext),
			"error", err.Error())
		h.writeServiceErrorResponse(w, err)
		return
	}

	slog.Info("Rate limit rule deleted successfully",
		"event", "security_audit",
		"rule_id", id,
		"api_key", getAPIKeyName(securityContext))

	w.WriteHeader(http.StatusNoContent)
}

// ClearRateLimits handles bucket reset requests
// POST /api/v1/admin/rate-limits/clear?identifier=&endpoint=
// Requires 'admin' permission
func (h *Handlers) ClearRateLimits(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	endpoint := r.URL.Query().Get("endpoint")
	securityContext := GetSecurityContext(r)

	slog.Warn("Rate limit clear attempt",
		"event", "security_audit",
		"identifier", identifier,
		"endpoint", endpoint,
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	response, err := h.service.Clear(r.Context(), identifier, endpoint)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// RateLimitStats handles per-identifier usage requests
// GET /api/v1/admin/rate-limits/stats/{identifier}
func (h *Handlers) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	response, err := h.service.Stats(r.Context(), identifier)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

func (h *Handlers) decodeRuleRequest(w http.ResponseWriter, r *http.Request) (*models.PolicyRuleRequest, bool) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "application/json") {
		h.writeErrorResponse(w, http.StatusUnsupportedMediaType, models.ErrorCodeBadRequest, "Content-Type must be application/json")
		return nil, false
	}

	var req models.PolicyRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid JSON body")
		return nil, false
	}
	return &req, true
}
