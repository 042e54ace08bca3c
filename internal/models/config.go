// Package models - Service configuration and operational settings.
// This file defines the configuration tree for every gatekeeper component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, window store, policy storage, etc.)
// - Defaults that run out of the box without Redis or a database
// - Validation at load time so misconfigurations fail fast
package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Policy storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Window store type constants
const (
	WindowStoreTypeRedis  = "redis"
	WindowStoreTypeMemory = "memory"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP listener and upstream proxy target
// - WindowStore: where sliding-window events live (Redis or in-process)
// - Storage: where policy rules live
// - RateLimit: admission middleware behaviour
// - Security: identity tokens and admin API keys
// - Logging, Metrics, Observability: ambient concerns
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	WindowStore   WindowStoreConfig   `yaml:"window_store" json:"window_store"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	// UpstreamURL is the API that admitted requests are proxied to. Empty
	// means gatekeeper only serves its own endpoints.
	UpstreamURL string     `yaml:"upstream_url" json:"upstream_url"`
	CORS        CORSConfig `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type WindowStoreConfig struct {
	Type          string        `yaml:"type" json:"type"`
	KeyPrefix     string        `yaml:"key_prefix" json:"key_prefix"`
	OpTimeout     time.Duration `yaml:"op_timeout" json:"op_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	CacheTTL time.Duration  `yaml:"cache_ttl" json:"cache_ttl"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	// SeedDefaults inserts the built-in rule table into an empty store at startup.
	SeedDefaults bool `yaml:"seed_defaults" json:"seed_defaults"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// PolicyCacheTTL bounds how stale the per-process rule cache may get.
	PolicyCacheTTL time.Duration `yaml:"policy_cache_ttl" json:"policy_cache_ttl"`
	// PolicyLoadTimeout bounds one reload of the rules from policy storage.
	PolicyLoadTimeout time.Duration `yaml:"policy_load_timeout" json:"policy_load_timeout"`
	// Grace is added to the window when setting a bucket's expiry.
	Grace             time.Duration `yaml:"grace" json:"grace"`
	SkipPaths         []string      `yaml:"skip_paths" json:"skip_paths"`
	SkipPrefixes      []string      `yaml:"skip_prefixes" json:"skip_prefixes"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
}

type SecurityConfig struct {
	JWTSecret   string           `yaml:"jwt_secret" json:"jwt_secret"`
	EnableAdmin bool             `yaml:"enable_admin" json:"enable_admin"`
	AdminKeys   []AdminKeyConfig `yaml:"admin_keys" json:"admin_keys"`
}

// AdminKeyConfig declares an operator key. Either Key (raw) or KeyHash
// (SHA-256 hex) must be set; raw keys are hashed on load and never kept.
type AdminKeyConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Key         string   `yaml:"key,omitempty" json:"key,omitempty"`
	KeyHash     string   `yaml:"key_hash,omitempty" json:"key_hash,omitempty"`
	Permissions []string `yaml:"permissions" json:"permissions"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration that runs without external services:
// in-process window store, in-memory policy storage seeded with the built-in
// rule table, admin API disabled until keys are configured.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         86400,
			},
		},
		WindowStore: WindowStoreConfig{
			Type:          WindowStoreTypeMemory,
			KeyPrefix:     "rate_limit:",
			OpTimeout:     50 * time.Millisecond,
			SweepInterval: time.Minute,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 20,
			},
		},
		Storage: StorageConfig{
			Type:         StorageTypeMemory,
			Path:         "./data/rate_limits.json",
			CacheTTL:     5 * time.Minute,
			SeedDefaults: true,
			Database: DatabaseConfig{
				MaxOpenConns: 10,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			PolicyCacheTTL:    30 * time.Second,
			PolicyLoadTimeout: 50 * time.Millisecond,
			Grace:             60 * time.Second,
			SkipPaths:         []string{"/", "/health", "/api/v1/health", "/docs", "/redoc", "/openapi.json", "/metrics"},
			SkipPrefixes:      []string{"/uploads"},
		},
		Security: SecurityConfig{
			AdminKeys: []AdminKeyConfig{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gatekeeper",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.WindowStore.Validate(); err != nil {
		return fmt.Errorf("invalid window store config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	if sc.UpstreamURL != "" {
		u, err := url.Parse(sc.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid upstream url: %q", sc.UpstreamURL)
		}
	}

	return nil
}

func (wc *WindowStoreConfig) Validate() error {
	switch wc.Type {
	case WindowStoreTypeMemory:
		if wc.SweepInterval <= 0 {
			return errors.New("sweep interval must be positive for memory window store")
		}
	case WindowStoreTypeRedis:
		if wc.Redis.Addr == "" {
			return errors.New("redis address is required when window store type is redis")
		}
	default:
		return fmt.Errorf("invalid window store type: %s", wc.Type)
	}

	if wc.KeyPrefix == "" {
		return errors.New("key prefix cannot be empty")
	}

	if wc.OpTimeout <= 0 {
		return errors.New("operation timeout must be positive")
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.CacheTTL < 0 {
		return errors.New("cache TTL cannot be negative")
	}

	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if rc.PolicyCacheTTL < 0 {
		return errors.New("policy cache TTL cannot be negative")
	}
	if rc.PolicyLoadTimeout < 0 {
		return errors.New("policy load timeout cannot be negative")
	}
	if rc.Grace < 0 {
		return errors.New("grace cannot be negative")
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	for _, k := range sec.AdminKeys {
		if k.Name == "" {
			return errors.New("admin key name cannot be empty")
		}
		if k.Key == "" && k.KeyHash == "" {
			return fmt.Errorf("admin key %q needs key or key_hash", k.Name)
		}
	}

	if sec.EnableAdmin && len(sec.AdminKeys) == 0 {
		return errors.New("admin API enabled but no admin keys configured")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !oneOf(lc.Level, "debug", "info", "warn", "error") {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !oneOf(lc.Format, "json", "text") {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !oneOf(lc.Output, "stdout", "stderr", "file") {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required when exporter is otlp")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
