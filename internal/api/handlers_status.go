package api

import (
	"net/http"

	"gatekeeper/internal/identity"
)

// RateLimitStatus reports the caller's tier and usage
// GET /api/v1/rate-limit/status
func (h *Handlers) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		id = h.identities.Resolve(r)
	}

	response, err := h.service.Status(r.Context(), id)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// RateLimitTiers lists every tier with its budgets
// GET /api/v1/rate-limit/tiers
func (h *Handlers) RateLimitTiers(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.Tiers(r.Context())
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}
