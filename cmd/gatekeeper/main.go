package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/admin"
	"gatekeeper/internal/api"
	"gatekeeper/internal/config"
	"gatekeeper/internal/identity"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/observability"
	"gatekeeper/internal/policy"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"
	"gatekeeper/internal/windowstore"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
	genKey        = flag.Bool("genkey", false, "Generate an admin API key with its hash and exit")
	exampleConfig = flag.String("example-config", "", "Write an example configuration file to the given path and exit")
)

func main() {
	flag.Parse()

	info := version.GetInfo()

	if *showVersion {
		fmt.Println(info.String())
		return
	}

	if *genKey {
		key, err := models.GenerateAPIKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("key:      %s\nkey_hash: %s\n", key, models.HashAPIKey(key))
		return
	}

	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, info)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, info)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	windowStore, err := initializeWindowStore(startupCtx, cfg)
	if err != nil {
		slog.Error("Failed to initialize window store", "error", err)
		os.Exit(1)
	}
	defer windowStore.Close()

	policyStorage, err := initializeStorage(startupCtx, cfg)
	if err != nil {
		slog.Error("Failed to initialize policy storage", "error", err)
		os.Exit(1)
	}
	defer policyStorage.Close()

	resolver := policy.NewResolver(policyStorage,
		policy.WithCacheTTL(cfg.RateLimit.PolicyCacheTTL),
		policy.WithLoadTimeout(cfg.RateLimit.PolicyLoadTimeout))
	if missing := resolver.Static().Missing(); len(missing) > 0 {
		slog.Error("Built-in rule table is incomplete", "missing", missing)
		os.Exit(1)
	}

	limiterOpts := []ratelimit.Option{ratelimit.WithGrace(cfg.RateLimit.Grace)}
	if cfg.Metrics.Enabled {
		limiterMetrics, err := observability.NewLimiterMetrics()
		if err != nil {
			slog.Error("Failed to create limiter metrics", "error", err)
			os.Exit(1)
		}
		limiterOpts = append(limiterOpts, ratelimit.WithObserver(limiterMetrics))
	}
	limiter := ratelimit.NewLimiter(windowStore, limiterOpts...)

	identities := identity.NewJWTResolver(cfg.Security.JWTSecret, cfg.RateLimit.TrustProxyHeaders)
	if cfg.Security.JWTSecret == "" {
		slog.Warn("No JWT secret configured, every caller is identified by address")
	}

	adminService := admin.NewService(policyStorage, limiter, resolver)

	handlerOpts := []api.HandlerOption{
		api.WithStorage(policyStorage),
		api.WithWindowStore(windowStore),
		api.WithIdentityResolver(identities),
	}
	if cfg.Server.UpstreamURL != "" {
		upstream, err := api.NewUpstreamProxy(cfg.Server.UpstreamURL, info.Via())
		if err != nil {
			slog.Error("Failed to create upstream proxy", "error", err)
			os.Exit(1)
		}
		handlerOpts = append(handlerOpts, api.WithUpstream(upstream))
		slog.Info("Forwarding admitted requests", "upstream", cfg.Server.UpstreamURL)
	}
	handlers := api.NewHandlers(adminService, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if cfg.RateLimit.Enabled {
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(cfg.RateLimit, limiter, resolver, identities)))
	} else {
		slog.Warn("Rate limiting is disabled")
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"window_store", cfg.WindowStore.Type,
			"storage", cfg.Storage.Type,
			"admin_enabled", cfg.Security.EnableAdmin)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeWindowStore connects the sliding-window backend. A Redis store
// that cannot be reached at startup is an error; outages after startup are
// absorbed by the limiter.
func initializeWindowStore(ctx context.Context, cfg *models.Config) (windowstore.Store, error) {
	store, err := windowstore.NewStore(ctx, cfg.WindowStore)
	if err != nil {
		return nil, err
	}

	if !cfg.Metrics.Enabled {
		return store, nil
	}
	instrumented, err := observability.NewInstrumentedWindowStore(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("instrument window store: %w", err)
	}
	return instrumented, nil
}

// initializeStorage creates the policy storage and seeds it with the built-in
// rules when it is empty.
func initializeStorage(ctx context.Context, cfg *models.Config) (storage.Storage, error) {
	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		return nil, err
	}

	var active storage.Storage = store
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(store)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("instrument storage: %w", err)
		}
		active = instrumented
	}

	if cfg.Storage.SeedDefaults {
		n, err := storage.Seed(ctx, active, policy.StaticTable().Rules())
		if err != nil {
			active.Close()
			return nil, fmt.Errorf("seed rules: %w", err)
		}
		if n > 0 {
			slog.Info("Seeded policy storage with built-in rules", "rules", n)
		}
	}
	return active, nil
}
