package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv     string
	LogLevel   string
	LogFormat  string
	OperatorID string

	// Database
	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string
	LocalMode      bool

	// Redis backs the distributed reconcile lock. Empty means in-process locking.
	RedisURL string

	// RabbitMQ carries outbox events. Empty means in-process delivery.
	RabbitMQURL string

	// HTTP API
	HTTPAddr  string
	JWTSecret string
	JWTIssuer string

	// Reconciliation
	ReconcileLockTimeout time.Duration
	ProjectionTimeout    time.Duration

	// Payment gateway
	PaymentGatewayURL          string
	PaymentGatewayTokenURL     string
	PaymentGatewayClientID     string
	PaymentGatewayClientSecret string
	PaymentGatewayScopes       []string
	PaymentGatewayTimeout      time.Duration
	PaymentSimulate            bool

	// Outbox
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxRetries       int
	OutboxRetentionDays    int
	OutboxCleanupInterval  time.Duration
	OutboxProcessorEnabled bool

	// Worker
	WorkerHealthAddr string

	// Remote API used by CLI commands.
	APIURL   string
	APIToken string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:     getEnv("APP_ENV", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", ""),
		OperatorID: getEnv("OPERATOR_ID", "operator"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "auto"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", getDefaultSQLitePath()),

		RedisURL:    getEnv("REDIS_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		HTTPAddr:  getEnv("HTTP_ADDR", "0.0.0.0:8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		ReconcileLockTimeout: getDurationEnv("RECONCILE_LOCK_TIMEOUT", 5*time.Second),
		ProjectionTimeout:    getDurationEnv("PROJECTION_TIMEOUT", 10*time.Second),

		PaymentGatewayURL:          getEnv("PAYMENT_GATEWAY_URL", ""),
		PaymentGatewayTokenURL:     getEnv("PAYMENT_GATEWAY_TOKEN_URL", ""),
		PaymentGatewayClientID:     getEnv("PAYMENT_GATEWAY_CLIENT_ID", ""),
		PaymentGatewayClientSecret: getEnv("PAYMENT_GATEWAY_CLIENT_SECRET", ""),
		PaymentGatewayScopes:       getListEnv("PAYMENT_GATEWAY_SCOPES"),
		PaymentGatewayTimeout:      getDurationEnv("PAYMENT_GATEWAY_TIMEOUT", 5*time.Second),
		PaymentSimulate:            getBoolEnv("PAYMENT_SIMULATE", false),

		OutboxPollInterval:     getDurationEnv("OUTBOX_POLL_INTERVAL", 100*time.Millisecond),
		OutboxBatchSize:        getIntEnv("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxRetries:       getIntEnv("OUTBOX_MAX_RETRIES", 5),
		OutboxRetentionDays:    getIntEnv("OUTBOX_RETENTION_DAYS", 7),
		OutboxCleanupInterval:  getDurationEnv("OUTBOX_CLEANUP_INTERVAL", time.Hour),
		OutboxProcessorEnabled: getBoolEnv("OUTBOX_PROCESSOR_ENABLED", true),

		WorkerHealthAddr: getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),

		APIURL:   getEnv("AGORA_API_URL", ""),
		APIToken: getEnv("AGORA_API_TOKEN", ""),
	}

	// Local mode is the default when no server database is configured.
	cfg.LocalMode = getBoolEnv("AGORA_LOCAL_MODE", cfg.DatabaseURL == "")
	if cfg.LocalMode {
		cfg.DatabaseDriver = "sqlite"
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	var errs []error
	if c.IsProduction() && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	if c.IsProduction() && c.PaymentSimulate {
		errs = append(errs, errors.New("PAYMENT_SIMULATE must be off in production"))
	}
	if c.IsPostgres() && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
	}
	if c.ReconcileLockTimeout <= 0 {
		errs = append(errs, errors.New("RECONCILE_LOCK_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// IsLocalMode returns true when running against the local SQLite database.
func (c *Config) IsLocalMode() bool {
	return c.LocalMode
}

// IsSQLite returns true if the SQLite driver is selected.
func (c *Config) IsSQLite() bool {
	return c.DatabaseDriver == "sqlite" || (c.DatabaseDriver == "auto" && c.LocalMode)
}

// IsPostgres returns true if the PostgreSQL driver is selected.
func (c *Config) IsPostgres() bool {
	return c.DatabaseDriver == "postgres" || (c.DatabaseDriver == "auto" && !c.LocalMode)
}

// PaymentGatewayConfigured reports whether a real gateway is reachable.
func (c *Config) PaymentGatewayConfigured() bool {
	return c.PaymentGatewayURL != ""
}

// OutboxRetention returns how long published outbox messages are kept.
func (c *Config) OutboxRetention() time.Duration {
	return time.Duration(c.OutboxRetentionDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated variable, dropping empty items.
func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getDefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".agora", "agora.db")
	}
	return filepath.Join(home, ".agora", "agora.db")
}
