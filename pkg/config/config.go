// Package config provides configuration loading from environment variables
// and the providers settings file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StorageBackend represents the provider-settings source type.
type StorageBackend string

const (
	// StorageFile reads provider settings from the providers file.
	StorageFile StorageBackend = "file"
	// StoragePostgres reads provider settings from PostgreSQL.
	StoragePostgres StorageBackend = "postgres"
)

// CacheBackend represents the response-cache implementation type.
type CacheBackend string

const (
	// CacheMemory uses the in-process TTL cache.
	CacheMemory CacheBackend = "memory"
	// CacheRedis uses Redis for the response cache.
	CacheRedis CacheBackend = "redis"
)

// Base contains service-level configuration.
type Base struct {
	// Service identification
	ServiceName string
	Environment string // development, staging, production
	Version     string

	// Server
	GRPCPort int

	// Provider settings source
	StorageBackend StorageBackend
	ProvidersFile  string

	// Routing
	Strategy       string // sequential, random
	RetryBaseDelay time.Duration

	// Response cache
	CacheBackend  CacheBackend
	CacheCapacity int
	CacheSweep    time.Duration

	// Task queue
	QueueWorkers  int
	QueueCapacity int
	QueueTick     time.Duration

	// Sensitive-word filter
	SensitiveWords string // comma-separated

	// Database (used when StorageBackend is "postgres")
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (used when CacheBackend is "redis")
	RedisURL string

	// Observability
	OTLPEndpoint string
	LogLevel     string
	LogFormat    string // json, text

	// Tracing
	TracingEnabled  bool
	TracingSampling float64
}

// Load loads base configuration from environment variables.
func Load(serviceName string) (*Base, error) {
	cfg := &Base{
		ServiceName: serviceName,
		Environment: getEnv("DRAFTMILL_ENV", "development"),
		Version:     getEnv("DRAFTMILL_VERSION", "dev"),

		GRPCPort: getEnvInt("DRAFTMILL_GRPC_PORT", 9000),

		StorageBackend: parseStorageBackend(getEnv("DRAFTMILL_STORAGE_BACKEND", "file")),
		ProvidersFile:  getEnv("DRAFTMILL_PROVIDERS_FILE", "providers.yaml"),

		Strategy:       getEnv("DRAFTMILL_STRATEGY", "sequential"),
		RetryBaseDelay: getEnvDuration("DRAFTMILL_RETRY_BASE_DELAY", time.Second),

		CacheBackend:  parseCacheBackend(getEnv("DRAFTMILL_CACHE_BACKEND", "memory")),
		CacheCapacity: getEnvInt("DRAFTMILL_CACHE_CAPACITY", 1024),
		CacheSweep:    getEnvDuration("DRAFTMILL_CACHE_SWEEP", time.Minute),

		QueueWorkers:  getEnvInt("DRAFTMILL_QUEUE_WORKERS", 4),
		QueueCapacity: getEnvInt("DRAFTMILL_QUEUE_CAPACITY", 64),
		QueueTick:     getEnvDuration("DRAFTMILL_QUEUE_TICK", time.Second),

		SensitiveWords: getEnv("DRAFTMILL_SENSITIVE_WORDS", ""),

		DBHost:     getEnv("DRAFTMILL_DB_HOST", "localhost"),
		DBPort:     getEnvInt("DRAFTMILL_DB_PORT", 5432),
		DBUser:     getEnv("DRAFTMILL_DB_USER", "draftmill"),
		DBPassword: getEnv("DRAFTMILL_DB_PASSWORD", ""),
		DBName:     getEnv("DRAFTMILL_DB_NAME", "draftmill"),
		DBSSLMode:  getEnv("DRAFTMILL_DB_SSLMODE", "disable"),

		RedisURL: getEnv("DRAFTMILL_REDIS_URL", "redis://localhost:6379"),

		OTLPEndpoint: getEnv("DRAFTMILL_OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:     getEnv("DRAFTMILL_LOG_LEVEL", "info"),
		LogFormat:    getEnv("DRAFTMILL_LOG_FORMAT", "json"),

		TracingEnabled:  getEnvBool("DRAFTMILL_TRACING_ENABLED", false),
		TracingSampling: getEnvFloat("DRAFTMILL_TRACING_SAMPLING", 1.0),
	}

	return cfg, nil
}

// DatabaseDSN returns the PostgreSQL connection string.
func (c *Base) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// IsDevelopment returns true if running in development mode.
func (c *Base) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Base) IsProduction() bool {
	return c.Environment == "production"
}

// UsePostgresSettings returns true if provider settings come from
// PostgreSQL.
func (c *Base) UsePostgresSettings() bool {
	return c.StorageBackend == StoragePostgres
}

// UseRedisCache returns true if the response cache is backed by Redis.
func (c *Base) UseRedisCache() bool {
	return c.CacheBackend == CacheRedis
}

// Helper functions

func parseStorageBackend(s string) StorageBackend {
	switch s {
	case "postgres", "postgresql", "pg":
		return StoragePostgres
	default:
		return StorageFile
	}
}

func parseCacheBackend(s string) CacheBackend {
	switch s {
	case "redis":
		return CacheRedis
	default:
		return CacheMemory
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
