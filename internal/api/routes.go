package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"gatekeeper/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics" &&
					r.URL.Path != "/api/v1/openapi.yaml" &&
					r.URL.Path != "/openapi.json" &&
					r.URL.Path != "/docs" &&
					r.URL.Path != "/redoc"
			}),
		))
	}
}

// WithRateLimiter adds the admission middleware to the router. Every matched
// route passes through it, the upstream catch-all included.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the gateway
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")
	router.HandleFunc("/redoc", handlers.ServeReDoc).Methods("GET")
	router.HandleFunc("/openapi.json", handlers.ServeOpenAPIJSON).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	api.HandleFunc("/rate-limit/status", handlers.RateLimitStatus).Methods("GET")
	api.HandleFunc("/rate-limit/tiers", handlers.RateLimitTiers).Methods("GET")

	adminAPI := api.PathPrefix("/admin/rate-limits").Subrouter()
	if config.Security.EnableAdmin {
		keys := NewKeyring(config.Security)
		adminAPI.Use(authMiddleware(keys))

		readAPI := adminAPI.PathPrefix("").Subrouter()
		readAPI.Use(RequirePermission(PermissionRead))
		readAPI.HandleFunc("", handlers.ListRules).Methods("GET")
		readAPI.HandleFunc("/stats/{identifier}", handlers.RateLimitStats).Methods("GET")
		readAPI.HandleFunc("/{id}", handlers.GetRule).Methods("GET")

		writeAPI := adminAPI.PathPrefix("").Subrouter()
		writeAPI.Use(RequirePermission(PermissionWrite))
		writeAPI.HandleFunc("", handlers.CreateRule).Methods("POST")
		writeAPI.HandleFunc("/{id}", handlers.UpdateRule).Methods("PUT")

		adminOnlyAPI := adminAPI.PathPrefix("").Subrouter()
		adminOnlyAPI.Use(RequirePermission(PermissionAdmin))
		adminOnlyAPI.HandleFunc("/clear", handlers.ClearRateLimits).Methods("POST")
		adminOnlyAPI.HandleFunc("/{id}", handlers.DeleteRule).Methods("DELETE")

		adminAPI.PathPrefix("").HandlerFunc(methodNotAllowedHandler)

		router.Use(OptionalAuth(keys))
	} else {
		adminAPI.PathPrefix("").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlers.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Admin API is disabled")
		})
	}

	// Anything gatekeeper does not serve itself goes upstream.
	router.PathPrefix("/").HandlerFunc(handlers.Forward)

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest)
	_ = json.NewEncoder(w).Encode(errorResp)
}

// corsMiddleware handles Cross-Origin Resource Sharing. Rate limit headers
// are exposed so browser clients can read them.
func corsMiddleware(corsConfig models.CORSConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(corsConfig.AllowedOrigins) > 0 {
				origin := r.Header.Get("Origin")
				if origin != "" && (contains(corsConfig.AllowedOrigins, "*") || contains(corsConfig.AllowedOrigins, origin)) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Expose-Headers",
						"X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
				}
			}
			if len(corsConfig.AllowedMethods) > 0 {
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(corsConfig.AllowedMethods, ", "))
			}
			if len(corsConfig.AllowedHeaders) > 0 {
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(corsConfig.AllowedHeaders, ", "))
			}
			if corsConfig.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(corsConfig.MaxAge))
			}
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				errorResp := models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError)
				_ = json.NewEncoder(w).Encode(errorResp)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
