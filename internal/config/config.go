package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEKEEPER_"

// Load loads configuration from file and environment variables.
//
// Precedence, lowest first: built-in defaults, the YAML file, a .env file in
// the working directory, then the process environment. Variables already set
// in the environment are never overwritten by .env.
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadDotEnv reads path into the process environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	slog.Debug("Loaded environment file", "path", path)
	return nil
}

// deprecatedConfig mirrors removed config fields for detecting stale operator configs.
type deprecatedConfig struct {
	Security struct {
		RateLimit interface{} `yaml:"rate_limit"`
		APIKeys   interface{} `yaml:"api_keys"`
	} `yaml:"security"`
	RateLimit struct {
		RequestsPerMinute interface{} `yaml:"requests_per_minute"`
		BurstSize         interface{} `yaml:"burst_size"`
	} `yaml:"rate_limit"`
}

// warnDeprecatedKeys logs a warning for each removed config key found in the YAML data.
// The service continues to start normally - these keys are silently ignored by the main decoder.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Security.RateLimit != nil {
		slog.Warn("Config key has moved to the top-level rate_limit section.", "config_key", "security.rate_limit")
	}
	if dep.Security.APIKeys != nil {
		slog.Warn("Config key was renamed; use security.admin_keys.", "config_key", "security.api_keys")
	}
	if dep.RateLimit.RequestsPerMinute != nil {
		slog.Warn("Config key is no longer supported; limits are policy rules managed through the admin API.", "config_key", "rate_limit.requests_per_minute")
	}
	if dep.RateLimit.BurstSize != nil {
		slog.Warn("Config key is no longer supported; the sliding window has no burst allowance.", "config_key", "rate_limit.burst_size")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envList(name string, dst *[]string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	envString("UPSTREAM_URL", &config.Server.UpstreamURL)

	// Window store configuration
	envString("WINDOW_STORE_TYPE", &config.WindowStore.Type)
	envString("WINDOW_STORE_KEY_PREFIX", &config.WindowStore.KeyPrefix)
	envDuration("WINDOW_STORE_OP_TIMEOUT", &config.WindowStore.OpTimeout)
	envDuration("WINDOW_STORE_SWEEP_INTERVAL", &config.WindowStore.SweepInterval)
	envString("REDIS_ADDR", &config.WindowStore.Redis.Addr)
	envString("REDIS_PASSWORD", &config.WindowStore.Redis.Password)
	envInt("REDIS_DB", &config.WindowStore.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.WindowStore.Redis.PoolSize)

	// Policy storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("STORAGE_PATH", &config.Storage.Path)
	envDuration("STORAGE_CACHE_TTL", &config.Storage.CacheTTL)
	envBool("STORAGE_SEED_DEFAULTS", &config.Storage.SeedDefaults)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)

	// Rate limit configuration
	envBool("RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	envDuration("POLICY_CACHE_TTL", &config.RateLimit.PolicyCacheTTL)
	envDuration("POLICY_LOAD_TIMEOUT", &config.RateLimit.PolicyLoadTimeout)
	envDuration("RATE_LIMIT_GRACE", &config.RateLimit.Grace)
	envList("RATE_LIMIT_SKIP_PATHS", &config.RateLimit.SkipPaths)
	envList("RATE_LIMIT_SKIP_PREFIXES", &config.RateLimit.SkipPrefixes)
	envBool("TRUST_PROXY_HEADERS", &config.RateLimit.TrustProxyHeaders)

	// Security configuration
	envString("JWT_SECRET", &config.Security.JWTSecret)
	envBool("ENABLE_ADMIN", &config.Security.EnableAdmin)

	// Admin key from environment, appended to any configured in the file
	if key := os.Getenv(EnvPrefix + "ADMIN_KEY"); key != "" {
		config.Security.AdminKeys = append(config.Security.AdminKeys, models.AdminKeyConfig{
			Name:        "env-admin",
			Key:         key,
			Permissions: []string{models.PermissionAdmin},
			Enabled:     true,
		})
	}

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Observability configuration
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()

	config.Server.UpstreamURL = "http://localhost:8000"
	config.WindowStore.Type = models.WindowStoreTypeRedis
	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "file:./data/rate_limits.db"
	config.Security.JWTSecret = "change-me"
	config.Security.EnableAdmin = true
	config.Security.AdminKeys = []models.AdminKeyConfig{
		{
			Name:        "operator",
			KeyHash:     models.HashAPIKey("gk_your-admin-key-here"),
			Permissions: []string{models.PermissionAdmin},
			Enabled:     true,
		},
	}

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
