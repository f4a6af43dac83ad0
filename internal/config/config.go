// Package config provides configuration management for the chain registry.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultRegistryRemote is the upstream chain registry repository
const DefaultRegistryRemote = "https://github.com/cosmos/chain-registry"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Registry  RegistryConfig
	Liveness  LivenessConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres       PostgresConfig
	Redis          RedisConfig
	MigrationsPath string
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	// URL overrides the discrete fields when set (DATABASE_URL)
	URL            string
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	AcquireTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds query cache configuration
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// RegistryConfig holds the ingestion source configuration
type RegistryConfig struct {
	GitRemote     string
	GitRef        string
	Path          string // clone target; a temp dir is used when empty
	KeepClone     bool
	RetainCommits int
	CloneAttempts int
}

// LivenessConfig holds liveness prober configuration
type LivenessConfig struct {
	MaxConcurrency int
	DialTimeout    time.Duration
	JobTimeout     time.Duration
	Interval       time.Duration
}

// RateLimitConfig holds per-client API rate limits
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	TrustProxy        bool // honor X-Forwarded-For
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", getEnv("SERVER_PORT", "3000")),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				URL:            getEnv("DATABASE_URL", ""),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "chain_registry"),
				User:           getEnv("POSTGRES_USER", "registry"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
				AcquireTimeout: getEnvAsDuration("POSTGRES_ACQUIRE_TIMEOUT", 30*time.Second),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations/postgres"),
		},
		Cache: CacheConfig{
			Enabled: getEnvAsBool("CACHE_ENABLED", true),
			TTL:     getEnvAsDuration("CACHE_TTL", 60*time.Second),
		},
		Registry: RegistryConfig{
			GitRemote:     getEnv("REGISTRY_GIT_REMOTE", DefaultRegistryRemote),
			GitRef:        getEnv("REGISTRY_GIT_REF", "master"),
			Path:          getEnv("REGISTRY_CLONE_PATH", ""),
			KeepClone:     getEnvAsBool("REGISTRY_KEEP_CLONE", false),
			RetainCommits: getEnvAsInt("REGISTRY_RETAIN_COMMITS", 5),
			CloneAttempts: getEnvAsInt("REGISTRY_CLONE_ATTEMPTS", 3),
		},
		Liveness: LivenessConfig{
			MaxConcurrency: getEnvAsInt("LIVENESS_MAX_CONCURRENCY", 10),
			DialTimeout:    getEnvAsDuration("LIVENESS_DIAL_TIMEOUT", 5*time.Second),
			JobTimeout:     getEnvAsDuration("LIVENESS_JOB_TIMEOUT", 10*time.Minute),
			Interval:       getEnvAsDuration("LIVENESS_INTERVAL", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
			TrustProxy:        getEnvAsBool("RATE_LIMIT_TRUST_PROXY", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail far from where they were set
func (c *Config) Validate() error {
	if c.Database.Postgres.MaxConnections < 1 {
		return fmt.Errorf("POSTGRES_MAX_CONNECTIONS must be at least 1, got %d", c.Database.Postgres.MaxConnections)
	}
	if c.Registry.RetainCommits < 1 {
		return fmt.Errorf("REGISTRY_RETAIN_COMMITS must be at least 1, got %d", c.Registry.RetainCommits)
	}
	if c.Liveness.MaxConcurrency < 1 {
		return fmt.Errorf("LIVENESS_MAX_CONCURRENCY must be at least 1, got %d", c.Liveness.MaxConcurrency)
	}
	if c.Liveness.DialTimeout <= 0 {
		return fmt.Errorf("LIVENESS_DIAL_TIMEOUT must be positive, got %v", c.Liveness.DialTimeout)
	}
	return nil
}

// ConnString returns the Postgres connection URL
func (c *PostgresConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
