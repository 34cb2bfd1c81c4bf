package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/authority-gate/services"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: audit trail store. When nil, decisions are only logged.
	Redis         RedisConfig
	Gate          GateConfig
	Policy        PolicyConfig
	Audit         AuditConfig
	Temporal      TemporalConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	// AdminToken guards the policy reload and cache endpoints. Required in production.
	AdminToken string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the shared mandate store configuration
type RedisConfig struct {
	URL       string // empty disables the shared store
	KeyPrefix string
}

// GateConfig holds signing, caching and identity settings for the gate
type GateConfig struct {
	SigningKey           string
	SigningAlgorithm     string // hmac or ed25519
	KeyID                string
	MandateTTL           time.Duration
	DecisionTimeout      time.Duration
	CacheMaxSize         int
	CacheCleanupInterval time.Duration
	FingerprintFields    []string

	// Identity attached to every intercepted call
	Principal string
	TenantID  string
	SessionID string
	Resource  string

	// EngineURL points the gate at a remote decision service; empty evaluates locally
	EngineURL string
}

// PolicyConfig holds rule set source settings
type PolicyConfig struct {
	File          string
	Watch         bool
	WatchDebounce time.Duration
	Precedence    string // first_match or deny_overrides
}

// AuditConfig holds the async audit writer settings
type AuditConfig struct {
	BufferSize  int
	WorkerCount int
	BatchSize   int
}

// TemporalConfig holds the worker's connection to a Temporal frontend
type TemporalConfig struct {
	HostPort  string
	Namespace string
	TaskQueue string
	// OpsAddr serves health and cache endpoints for the worker; empty disables it
	OpsAddr string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := Load()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads the configuration from the environment without validating it
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AdminToken:      getEnv("ADMIN_TOKEN", ""),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "authority-gate:mandate:"),
		},
		Gate: GateConfig{
			SigningKey:           getEnv("GATE_SIGNING_KEY", ""),
			SigningAlgorithm:     strings.ToLower(getEnv("GATE_SIGNING_ALG", "hmac")),
			KeyID:                getEnv("GATE_KEY_ID", "default"),
			MandateTTL:           time.Duration(getEnvAsInt("GATE_MANDATE_TTL", 300)) * time.Second,
			DecisionTimeout:      getEnvAsDuration("GATE_DECISION_TIMEOUT", 2*time.Second),
			CacheMaxSize:         getEnvAsInt("GATE_CACHE_MAX_SIZE", 10000),
			CacheCleanupInterval: getEnvAsDuration("GATE_CACHE_CLEANUP_INTERVAL", time.Minute),
			FingerprintFields:    getEnvAsList("GATE_FINGERPRINT_FIELDS", nil),
			Principal:            getEnv("GATE_PRINCIPAL", "temporal-worker"),
			TenantID:             getEnv("GATE_TENANT_ID", ""),
			SessionID:            getEnv("GATE_SESSION_ID", ""),
			Resource:             getEnv("GATE_RESOURCE", "temporal:activity"),
			EngineURL:            getEnv("GATE_ENGINE_URL", ""),
		},
		Policy: PolicyConfig{
			File:          getEnv("GATE_POLICY_FILE", "policies.yaml"),
			Watch:         getEnvAsBool("GATE_POLICY_WATCH", false),
			WatchDebounce: getEnvAsDuration("GATE_POLICY_WATCH_DEBOUNCE", 250*time.Millisecond),
			Precedence:    getEnv("GATE_PRECEDENCE", "first_match"),
		},
		Audit: AuditConfig{
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("AUDIT_WORKER_COUNT", 2),
			BatchSize:   getEnvAsInt("AUDIT_BATCH_SIZE", 50),
		},
		Temporal: TemporalConfig{
			HostPort:  getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
			Namespace: getEnv("TEMPORAL_NAMESPACE", "default"),
			TaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "authority-gate"),
			OpsAddr:   getEnv("WORKER_OPS_ADDR", ":8788"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate checks if all required configuration fields are set.
// Every failure is a configuration error and should abort startup.
func (c *Config) Validate() error {
	if c.Gate.SigningKey == "" {
		return services.ErrSigningKeyMissing
	}
	switch c.Gate.SigningAlgorithm {
	case "hmac", "ed25519":
	default:
		return invalid("GATE_SIGNING_ALG", "must be hmac or ed25519")
	}
	if c.Gate.MandateTTL <= 0 {
		return invalid("GATE_MANDATE_TTL", "must be positive")
	}
	if c.Gate.DecisionTimeout <= 0 {
		return invalid("GATE_DECISION_TIMEOUT", "must be positive")
	}
	if c.Gate.CacheMaxSize <= 0 {
		return invalid("GATE_CACHE_MAX_SIZE", "must be positive")
	}
	if c.Gate.Principal == "" {
		return invalid("GATE_PRINCIPAL", "is required")
	}
	if c.Gate.EngineURL != "" {
		if u, err := url.Parse(c.Gate.EngineURL); err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("GATE_ENGINE_URL", "must be an absolute URL")
		}
	}

	switch c.Policy.Precedence {
	case "first_match", "deny_overrides":
	default:
		return invalid("GATE_PRECEDENCE", "must be first_match or deny_overrides")
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return invalid("DB_USER", "database user is required")
		}
		if c.Database.Database == "" {
			return invalid("DB_NAME", "database name is required")
		}
	}

	if c.IsProduction() && c.Server.AdminToken == "" {
		return invalid("ADMIN_TOKEN", "is required in production")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return invalid("LOG_LEVEL", "log level is required")
	}

	return nil
}

func invalid(key, problem string) error {
	return services.NewDomainError(services.ErrorTypeConfiguration,
		fmt.Sprintf("%s %s", key, problem), nil).
		WithDetail("key", key)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither DATABASE_URL nor DB_HOST is set.
func loadDatabaseConfig() *DatabaseConfig {
	pool := func(cfg *DatabaseConfig) *DatabaseConfig {
		cfg.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 10)
		cfg.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 2)
		cfg.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
		return cfg
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return pool(&DatabaseConfig{ConnectionString: dbURL})
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return pool(&DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "gate"),
		Password: getEnv("DB_PASSWORD", ""),
		Database: getEnv("DB_NAME", "authority_gate"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	})
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
