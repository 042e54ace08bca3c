package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/admin"
	"gatekeeper/internal/identity"
	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"
	"gatekeeper/internal/windowstore"
)

const healthCheckTimeout = 2 * time.Second

// Handlers contains HTTP handlers for the gatekeeper API
type Handlers struct {
	service     admin.ServiceInterface
	identities  identity.Resolver
	storage     storage.Storage
	windowStore windowstore.Store
	upstream    http.Handler
	startedAt   time.Time
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithStorage sets the policy storage for health checks.
func WithStorage(s storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.storage = s
	}
}

// WithWindowStore sets the window store for health checks.
func WithWindowStore(s windowstore.Store) HandlerOption {
	return func(h *Handlers) {
		h.windowStore = s
	}
}

// WithIdentityResolver sets the resolver used when the admission middleware
// did not run for a request.
func WithIdentityResolver(r identity.Resolver) HandlerOption {
	return func(h *Handlers) {
		h.identities = r
	}
}

// WithUpstream sets the handler that receives every request gatekeeper does
// not serve itself.
func WithUpstream(upstream http.Handler) HandlerOption {
	return func(h *Handlers) {
		h.upstream = upstream
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(service admin.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		service:    service,
		identities: identity.NewJWTResolver("", false),
		startedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
// A window store outage degrades the service (traffic is admitted fail-open);
// a policy storage outage makes it unhealthy.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version
	response.Uptime = time.Since(h.startedAt).Round(time.Second).String()

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	statusCode := http.StatusOK

	if h.windowStore != nil {
		if err := h.windowStore.Ping(ctx); err != nil {
			slog.Warn("Window store health check failed", "error", err)
			response.Status = models.StatusDegraded
			response.AddComponent("window_store", models.StatusUnhealthy, "Window store unreachable, admitting traffic without limits")
		} else {
			response.AddComponent("window_store", models.StatusHealthy, "Window store is operational")
		}
	}

	if h.storage != nil {
		if err := h.storage.Ping(ctx); err != nil {
			slog.Error("Policy storage health check failed", "error", err)
			response.Status = models.StatusUnhealthy
			statusCode = http.StatusServiceUnavailable
			response.AddComponent("storage", models.StatusUnhealthy, "Policy storage unreachable")
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Policy storage is operational")
		}
	}

	response.AddComponent("api", models.StatusHealthy, "API is operational")

	securityContext := GetSecurityContext(r)
	if securityContext != nil && securityContext.HasPermission(PermissionRead) {
		info := version.GetInfo()
		response.AddMetric("authenticated", true)
		response.AddMetric("api_key_name", getAPIKeyName(securityContext))
		response.AddMetric("instance_id", info.InstanceID)
		response.AddMetric("hostname", info.Hostname)
		response.AddMetric("git_commit", info.GitCommit)
	} else {
		response.AddMetric("authenticated", false)
	}

	h.writeJSONResponse(w, statusCode, response)
}

// Forward passes the request to the upstream API.
func (h *Handlers) Forward(w http.ResponseWriter, r *http.Request) {
	if h.upstream == nil {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Resource not found")
		return
	}
	h.upstream.ServeHTTP(w, r)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// writeServiceErrorResponse maps admin service errors to their HTTP form.
// Anything else is reported as an internal error without its detail.
func (h *Handlers) writeServiceErrorResponse(w http.ResponseWriter, err error) {
	var svcErr *admin.ServiceError
	if errors.As(err, &svcErr) {
		message := svcErr.Message
		if svcErr.StatusCode < http.StatusInternalServerError && svcErr.Err != nil {
			message = svcErr.Error()
		}
		h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, message)
		return
	}
	slog.Error("Unhandled service error", "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

// getAPIKeyName safely extracts the API key name for logging
func getAPIKeyName(securityContext *SecurityContext) string {
	if securityContext == nil || securityContext.APIKey == nil {
		return "anonymous"
	}
	if securityContext.APIKey.Name != "" {
		return securityContext.APIKey.Name
	}
	return "unnamed-key"
}

func getClientIP(r *http.Request) string {
	return identity.ClientIP(r, false)
}
