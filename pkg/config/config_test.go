package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Clean up environment after test
	envVars := []string{
		"DRAFTMILL_ENV", "DRAFTMILL_VERSION", "DRAFTMILL_GRPC_PORT",
		"DRAFTMILL_STORAGE_BACKEND", "DRAFTMILL_PROVIDERS_FILE",
		"DRAFTMILL_STRATEGY", "DRAFTMILL_RETRY_BASE_DELAY",
		"DRAFTMILL_CACHE_BACKEND", "DRAFTMILL_CACHE_CAPACITY", "DRAFTMILL_CACHE_SWEEP",
		"DRAFTMILL_QUEUE_WORKERS", "DRAFTMILL_QUEUE_CAPACITY", "DRAFTMILL_QUEUE_TICK",
		"DRAFTMILL_SENSITIVE_WORDS",
		"DRAFTMILL_DB_HOST", "DRAFTMILL_DB_PORT", "DRAFTMILL_DB_USER",
		"DRAFTMILL_DB_PASSWORD", "DRAFTMILL_DB_NAME", "DRAFTMILL_DB_SSLMODE",
		"DRAFTMILL_REDIS_URL", "DRAFTMILL_OTLP_ENDPOINT",
		"DRAFTMILL_LOG_LEVEL", "DRAFTMILL_LOG_FORMAT",
		"DRAFTMILL_TRACING_ENABLED", "DRAFTMILL_TRACING_SAMPLING",
	}
	originalValues := make(map[string]string)
	for _, key := range envVars {
		originalValues[key] = os.Getenv(key)
	}
	defer func() {
		for key, val := range originalValues {
			if val == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, val)
			}
		}
	}()

	// Clear all env vars for default test
	for _, key := range envVars {
		os.Unsetenv(key)
	}

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("test-service")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.ServiceName != "test-service" {
			t.Errorf("ServiceName = %v, want %v", cfg.ServiceName, "test-service")
		}
		if cfg.Environment != "development" {
			t.Errorf("Environment = %v, want %v", cfg.Environment, "development")
		}
		if cfg.Version != "dev" {
			t.Errorf("Version = %v, want %v", cfg.Version, "dev")
		}
		if cfg.GRPCPort != 9000 {
			t.Errorf("GRPCPort = %v, want %v", cfg.GRPCPort, 9000)
		}
		if cfg.StorageBackend != StorageFile {
			t.Errorf("StorageBackend = %v, want %v", cfg.StorageBackend, StorageFile)
		}
		if cfg.ProvidersFile != "providers.yaml" {
			t.Errorf("ProvidersFile = %v, want %v", cfg.ProvidersFile, "providers.yaml")
		}
		if cfg.Strategy != "sequential" {
			t.Errorf("Strategy = %v, want %v", cfg.Strategy, "sequential")
		}
		if cfg.RetryBaseDelay != time.Second {
			t.Errorf("RetryBaseDelay = %v, want %v", cfg.RetryBaseDelay, time.Second)
		}
		if cfg.CacheBackend != CacheMemory {
			t.Errorf("CacheBackend = %v, want %v", cfg.CacheBackend, CacheMemory)
		}
		if cfg.CacheCapacity != 1024 {
			t.Errorf("CacheCapacity = %v, want %v", cfg.CacheCapacity, 1024)
		}
		if cfg.QueueWorkers != 4 {
			t.Errorf("QueueWorkers = %v, want %v", cfg.QueueWorkers, 4)
		}
		if cfg.QueueCapacity != 64 {
			t.Errorf("QueueCapacity = %v, want %v", cfg.QueueCapacity, 64)
		}
		if cfg.QueueTick != time.Second {
			t.Errorf("QueueTick = %v, want %v", cfg.QueueTick, time.Second)
		}
		if cfg.DBHost != "localhost" {
			t.Errorf("DBHost = %v, want %v", cfg.DBHost, "localhost")
		}
		if cfg.DBPort != 5432 {
			t.Errorf("DBPort = %v, want %v", cfg.DBPort, 5432)
		}
		if cfg.DBUser != "draftmill" {
			t.Errorf("DBUser = %v, want %v", cfg.DBUser, "draftmill")
		}
		if cfg.DBName != "draftmill" {
			t.Errorf("DBName = %v, want %v", cfg.DBName, "draftmill")
		}
		if cfg.DBSSLMode != "disable" {
			t.Errorf("DBSSLMode = %v, want %v", cfg.DBSSLMode, "disable")
		}
		if cfg.RedisURL != "redis://localhost:6379" {
			t.Errorf("RedisURL = %v, want %v", cfg.RedisURL, "redis://localhost:6379")
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, "info")
		}
		if cfg.LogFormat != "json" {
			t.Errorf("LogFormat = %v, want %v", cfg.LogFormat, "json")
		}
		if cfg.TracingEnabled {
			t.Errorf("TracingEnabled = %v, want %v", cfg.TracingEnabled, false)
		}
		if cfg.TracingSampling != 1.0 {
			t.Errorf("TracingSampling = %v, want %v", cfg.TracingSampling, 1.0)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		os.Setenv("DRAFTMILL_ENV", "production")
		os.Setenv("DRAFTMILL_VERSION", "1.2.3")
		os.Setenv("DRAFTMILL_GRPC_PORT", "9099")
		os.Setenv("DRAFTMILL_STORAGE_BACKEND", "postgres")
		os.Setenv("DRAFTMILL_PROVIDERS_FILE", "/etc/draftmill/providers.yaml")
		os.Setenv("DRAFTMILL_STRATEGY", "random")
		os.Setenv("DRAFTMILL_RETRY_BASE_DELAY", "500ms")
		os.Setenv("DRAFTMILL_CACHE_BACKEND", "redis")
		os.Setenv("DRAFTMILL_CACHE_CAPACITY", "4096")
		os.Setenv("DRAFTMILL_QUEUE_WORKERS", "8")
		os.Setenv("DRAFTMILL_SENSITIVE_WORDS", "alpha,beta")
		os.Setenv("DRAFTMILL_DB_HOST", "db.example.com")
		os.Setenv("DRAFTMILL_DB_PORT", "5433")
		os.Setenv("DRAFTMILL_DB_USER", "admin")
		os.Setenv("DRAFTMILL_DB_PASSWORD", "secret123")
		os.Setenv("DRAFTMILL_DB_NAME", "mydb")
		os.Setenv("DRAFTMILL_DB_SSLMODE", "require")
		os.Setenv("DRAFTMILL_REDIS_URL", "redis://redis.example.com:6380")
		os.Setenv("DRAFTMILL_OTLP_ENDPOINT", "otel.example.com:4317")
		os.Setenv("DRAFTMILL_LOG_LEVEL", "debug")
		os.Setenv("DRAFTMILL_LOG_FORMAT", "text")
		os.Setenv("DRAFTMILL_TRACING_ENABLED", "true")
		os.Setenv("DRAFTMILL_TRACING_SAMPLING", "0.5")

		cfg, err := Load("prod-service")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Environment != "production" {
			t.Errorf("Environment = %v, want %v", cfg.Environment, "production")
		}
		if cfg.Version != "1.2.3" {
			t.Errorf("Version = %v, want %v", cfg.Version, "1.2.3")
		}
		if cfg.GRPCPort != 9099 {
			t.Errorf("GRPCPort = %v, want %v", cfg.GRPCPort, 9099)
		}
		if cfg.StorageBackend != StoragePostgres {
			t.Errorf("StorageBackend = %v, want %v", cfg.StorageBackend, StoragePostgres)
		}
		if !cfg.UsePostgresSettings() {
			t.Error("UsePostgresSettings() = false, want true")
		}
		if cfg.ProvidersFile != "/etc/draftmill/providers.yaml" {
			t.Errorf("ProvidersFile = %v", cfg.ProvidersFile)
		}
		if cfg.Strategy != "random" {
			t.Errorf("Strategy = %v, want %v", cfg.Strategy, "random")
		}
		if cfg.RetryBaseDelay != 500*time.Millisecond {
			t.Errorf("RetryBaseDelay = %v, want %v", cfg.RetryBaseDelay, 500*time.Millisecond)
		}
		if cfg.CacheBackend != CacheRedis {
			t.Errorf("CacheBackend = %v, want %v", cfg.CacheBackend, CacheRedis)
		}
		if !cfg.UseRedisCache() {
			t.Error("UseRedisCache() = false, want true")
		}
		if cfg.CacheCapacity != 4096 {
			t.Errorf("CacheCapacity = %v, want %v", cfg.CacheCapacity, 4096)
		}
		if cfg.QueueWorkers != 8 {
			t.Errorf("QueueWorkers = %v, want %v", cfg.QueueWorkers, 8)
		}
		if cfg.SensitiveWords != "alpha,beta" {
			t.Errorf("SensitiveWords = %v, want %v", cfg.SensitiveWords, "alpha,beta")
		}
		if cfg.DBHost != "db.example.com" {
			t.Errorf("DBHost = %v, want %v", cfg.DBHost, "db.example.com")
		}
		if cfg.DBPort != 5433 {
			t.Errorf("DBPort = %v, want %v", cfg.DBPort, 5433)
		}
		if cfg.DBUser != "admin" {
			t.Errorf("DBUser = %v, want %v", cfg.DBUser, "admin")
		}
		if cfg.DBPassword != "secret123" {
			t.Errorf("DBPassword = %v, want %v", cfg.DBPassword, "secret123")
		}
		if cfg.DBName != "mydb" {
			t.Errorf("DBName = %v, want %v", cfg.DBName, "mydb")
		}
		if cfg.DBSSLMode != "require" {
			t.Errorf("DBSSLMode = %v, want %v", cfg.DBSSLMode, "require")
		}
		if cfg.RedisURL != "redis://redis.example.com:6380" {
			t.Errorf("RedisURL = %v, want %v", cfg.RedisURL, "redis://redis.example.com:6380")
		}
		if cfg.OTLPEndpoint != "otel.example.com:4317" {
			t.Errorf("OTLPEndpoint = %v, want %v", cfg.OTLPEndpoint, "otel.example.com:4317")
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, "debug")
		}
		if cfg.LogFormat != "text" {
			t.Errorf("LogFormat = %v, want %v", cfg.LogFormat, "text")
		}
		if !cfg.TracingEnabled {
			t.Errorf("TracingEnabled = %v, want %v", cfg.TracingEnabled, true)
		}
		if cfg.TracingSampling != 0.5 {
			t.Errorf("TracingSampling = %v, want %v", cfg.TracingSampling, 0.5)
		}
	})

	t.Run("invalid values use defaults", func(t *testing.T) {
		os.Setenv("DRAFTMILL_GRPC_PORT", "not-a-number")
		os.Setenv("DRAFTMILL_DB_PORT", "invalid")
		os.Setenv("DRAFTMILL_RETRY_BASE_DELAY", "not-a-duration")
		os.Setenv("DRAFTMILL_TRACING_ENABLED", "invalid-bool")
		os.Setenv("DRAFTMILL_TRACING_SAMPLING", "not-a-float")

		cfg, err := Load("test-service")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.GRPCPort != 9000 {
			t.Errorf("GRPCPort with invalid input = %v, want default %v", cfg.GRPCPort, 9000)
		}
		if cfg.DBPort != 5432 {
			t.Errorf("DBPort with invalid input = %v, want default %v", cfg.DBPort, 5432)
		}
		if cfg.RetryBaseDelay != time.Second {
			t.Errorf("RetryBaseDelay with invalid input = %v, want default %v", cfg.RetryBaseDelay, time.Second)
		}
		if cfg.TracingEnabled {
			t.Errorf("TracingEnabled with invalid input = %v, want default %v", cfg.TracingEnabled, false)
		}
		if cfg.TracingSampling != 1.0 {
			t.Errorf("TracingSampling with invalid input = %v, want default %v", cfg.TracingSampling, 1.0)
		}
	})
}

func TestParseStorageBackend(t *testing.T) {
	tests := []struct {
		in   string
		want StorageBackend
	}{
		{"file", StorageFile},
		{"postgres", StoragePostgres},
		{"postgresql", StoragePostgres},
		{"pg", StoragePostgres},
		{"unknown", StorageFile},
		{"", StorageFile},
	}

	for _, tt := range tests {
		if got := parseStorageBackend(tt.in); got != tt.want {
			t.Errorf("parseStorageBackend(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseCacheBackend(t *testing.T) {
	tests := []struct {
		in   string
		want CacheBackend
	}{
		{"memory", CacheMemory},
		{"redis", CacheRedis},
		{"unknown", CacheMemory},
	}

	for _, tt := range tests {
		if got := parseCacheBackend(tt.in); got != tt.want {
			t.Errorf("parseCacheBackend(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBase_DatabaseDSN(t *testing.T) {
	cfg := &Base{
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "testuser",
		DBPassword: "testpass",
		DBName:     "testdb",
		DBSSLMode:  "disable",
	}

	dsn := cfg.DatabaseDSN()
	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	if dsn != expected {
		t.Errorf("DatabaseDSN() = %v, want %v", dsn, expected)
	}
}

func TestBase_IsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"staging", false},
		{"production", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Base{Environment: tt.env}
			if got := cfg.IsDevelopment(); got != tt.want {
				t.Errorf("IsDevelopment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBase_IsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"development", false},
		{"staging", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Base{Environment: tt.env}
			if got := cfg.IsProduction(); got != tt.want {
				t.Errorf("IsProduction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	os.Unsetenv("TEST_ENV_VAR")

	// Test default value
	if got := getEnv("TEST_ENV_VAR", "default"); got != "default" {
		t.Errorf("getEnv() with unset var = %v, want %v", got, "default")
	}

	// Test set value
	os.Setenv("TEST_ENV_VAR", "custom")
	defer os.Unsetenv("TEST_ENV_VAR")

	if got := getEnv("TEST_ENV_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() with set var = %v, want %v", got, "custom")
	}
}

func TestGetEnvInt(t *testing.T) {
	os.Unsetenv("TEST_INT_VAR")

	// Test default value
	if got := getEnvInt("TEST_INT_VAR", 42); got != 42 {
		t.Errorf("getEnvInt() with unset var = %v, want %v", got, 42)
	}

	// Test valid int
	os.Setenv("TEST_INT_VAR", "123")
	defer os.Unsetenv("TEST_INT_VAR")

	if got := getEnvInt("TEST_INT_VAR", 42); got != 123 {
		t.Errorf("getEnvInt() with valid int = %v, want %v", got, 123)
	}

	// Test invalid int
	os.Setenv("TEST_INT_VAR", "not-a-number")
	if got := getEnvInt("TEST_INT_VAR", 42); got != 42 {
		t.Errorf("getEnvInt() with invalid int = %v, want default %v", got, 42)
	}
}

func TestGetEnvBool(t *testing.T) {
	os.Unsetenv("TEST_BOOL_VAR")

	// Test default value
	if got := getEnvBool("TEST_BOOL_VAR", true); got != true {
		t.Errorf("getEnvBool() with unset var = %v, want %v", got, true)
	}

	// Test valid bool values
	testCases := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"false", false},
		{"1", true},
		{"0", false},
		{"TRUE", true},
		{"FALSE", false},
	}

	for _, tc := range testCases {
		os.Setenv("TEST_BOOL_VAR", tc.value)
		if got := getEnvBool("TEST_BOOL_VAR", !tc.want); got != tc.want {
			t.Errorf("getEnvBool(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}

	// Test invalid bool
	os.Setenv("TEST_BOOL_VAR", "not-a-bool")
	if got := getEnvBool("TEST_BOOL_VAR", true); got != true {
		t.Errorf("getEnvBool() with invalid bool = %v, want default %v", got, true)
	}

	os.Unsetenv("TEST_BOOL_VAR")
}

func TestGetEnvFloat(t *testing.T) {
	os.Unsetenv("TEST_FLOAT_VAR")

	// Test default value
	if got := getEnvFloat("TEST_FLOAT_VAR", 3.14); got != 3.14 {
		t.Errorf("getEnvFloat() with unset var = %v, want %v", got, 3.14)
	}

	// Test valid float
	os.Setenv("TEST_FLOAT_VAR", "2.718")
	defer os.Unsetenv("TEST_FLOAT_VAR")

	if got := getEnvFloat("TEST_FLOAT_VAR", 3.14); got != 2.718 {
		t.Errorf("getEnvFloat() with valid float = %v, want %v", got, 2.718)
	}

	// Test invalid float
	os.Setenv("TEST_FLOAT_VAR", "not-a-float")
	if got := getEnvFloat("TEST_FLOAT_VAR", 3.14); got != 3.14 {
		t.Errorf("getEnvFloat() with invalid float = %v, want default %v", got, 3.14)
	}
}

func TestGetEnvDuration(t *testing.T) {
	os.Unsetenv("TEST_DURATION_VAR")

	// Test default value
	if got := getEnvDuration("TEST_DURATION_VAR", 5*time.Second); got != 5*time.Second {
		t.Errorf("getEnvDuration() with unset var = %v, want %v", got, 5*time.Second)
	}

	// Test valid duration
	os.Setenv("TEST_DURATION_VAR", "10s")
	defer os.Unsetenv("TEST_DURATION_VAR")

	if got := getEnvDuration("TEST_DURATION_VAR", 5*time.Second); got != 10*time.Second {
		t.Errorf("getEnvDuration() with valid duration = %v, want %v", got, 10*time.Second)
	}

	// Test invalid duration
	os.Setenv("TEST_DURATION_VAR", "not-a-duration")
	if got := getEnvDuration("TEST_DURATION_VAR", 5*time.Second); got != 5*time.Second {
		t.Errorf("getEnvDuration() with invalid duration = %v, want default %v", got, 5*time.Second)
	}
}
