/*
config.go - Environment-driven configuration for the payout server

PURPOSE:
  Collects every runtime knob in one struct. Values come from the process
  environment, optionally seeded from a .env file in the working
  directory. Command-line flags in cmd/server override a few of them.

SOURCES (later wins):
  1. Defaults below
  2. .env file (if present, never overrides real env vars)
  3. Process environment
  4. cmd/server flags (-port, -db, -env)

VALIDATION:
  Validate() rejects combinations that cannot start a server, such as a
  postgres driver without DATABASE_URL or a non-positive rate limit.
  Malformed numbers and durations fall back to defaults rather than fail.

SEE ALSO:
  - logger.go: slog construction from LOG_LEVEL / LOG_FORMAT
  - redis.go: optional Redis client for idempotency keys
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full server configuration.
type Config struct {
	Addr        string
	Environment string
	LogLevel    string
	LogFormat   string

	DBDriver    string
	SQLitePath  string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IdempotencyTTL time.Duration

	RateLimitRPS     float64
	RateLimitBurst   int
	RateLimitIdleTTL time.Duration

	ReconcileEnabled  bool
	ReconcileInterval time.Duration
	ReconcileRepair   bool

	CORSAllowedOrigins []string
	ScenariosEnabled   bool
	ReceiptCurrency    string
}

// Load reads .env (if any) and the environment.
func Load() Config {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	env := getEnv("APP_ENV", "development")
	return Config{
		Addr:        getEnv("APP_ADDR", ":8080"),
		Environment: env,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		SQLitePath:  getEnv("SQLITE_PATH", "payout.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 10),
		RateLimitIdleTTL: getEnvDuration("RATE_LIMIT_IDLE_TTL", 10*time.Minute),

		ReconcileEnabled:  getEnvBool("RECONCILE_ENABLED", true),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Hour),
		ReconcileRepair:   getEnvBool("RECONCILE_REPAIR", false),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
		ScenariosEnabled:   getEnvBool("SCENARIOS_ENABLED", env != "production"),
		ReceiptCurrency:    getEnv("RECEIPT_CURRENCY", "USD"),
	}
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool { return c.Environment == "production" }

// Validate checks the configuration for settings that cannot work.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER is sqlite")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	if c.ReconcileEnabled && c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive when RECONCILE_ENABLED is true")
	}
	if c.IsProduction() && c.ScenariosEnabled {
		return fmt.Errorf("SCENARIOS_ENABLED must be false in production, scenarios reset the database")
	}
	return nil
}

// =============================================================================
// ENV HELPERS
// =============================================================================

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
