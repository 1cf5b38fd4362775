// Package config provides configuration management for the outbound router
// service. Values are read from environment variables (optionally seeded from
// a .env file) with defaults, and validated before the service starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Admin API port (default: 8080)
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve the admin API over HTTPS when both are set
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST: Admin API requests per second and burst per caller (default: 10, 20; 0 disables)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Rotating log file path; empty logs to stdout only
//   - LOG_MAX_SIZE_MB, LOG_MAX_BACKUPS, LOG_MAX_AGE_DAYS: Rotation limits (default: 100, 3, 28)
//   - LOG_COMPRESS: Compress rotated files (default: true)
//   - LOG_CONSOLE: Also log to stdout when LOG_FILE is set (default: true)
//
// Client Factory:
//   - CLIENT_MODE: "sync" or "async" (default: sync)
//   - ASYNC_WORKERS, ASYNC_QUEUE: Async dispatcher sizing (default: 0 = per-route limit, 64)
//   - LENIENT_PATTERNS: Register configurations with invalid patterns disabled instead of rejecting them (default: false)
//   - CERT_FALLBACK_DIR: Directory searched for key and trust stores not found at their configured path
//
// Configuration Source:
//   - CONFIG_SOURCE: "store" or "file" (default: store)
//   - CONFIG_FILE: YAML file with client configurations (required for the file source)
//   - RESYNC_SCHEDULE: Cron schedule of full store resyncs (default: @every 5m)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./outbound_router.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address; empty disables change notifications
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_CHANNEL: Pub/sub channel for configuration changes (default: outbound-router:configs)
//
// Security Configuration:
//   - JWT_SECRET: Admin API token signing secret (required, minimum 32 characters)
//   - CONFIG_ENCRYPTION_KEY: Passphrase sealing stored passwords; empty stores them in clear text
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"outbound-router/internal/common/logging"
)

// Config sources.
const (
	SourceStore = "store"
	SourceFile  = "file"
)

// Config holds all configuration values of the service.
type Config struct {
	// Application settings
	Port           string
	TLSCertFile    string
	TLSKeyFile     string
	RateLimitRPS   string
	RateLimitBurst string
	LogLevel       string
	LogFile        string
	LogMaxSizeMB   string
	LogMaxBackups  string
	LogMaxAgeDays  string
	LogCompress    bool
	LogConsole     bool

	// Client factory
	ClientMode      string // sync or async
	AsyncWorkers    string
	AsyncQueue      string
	LenientPatterns bool
	CertFallbackDir string

	// Configuration source
	ConfigSource   string // store or file
	ConfigFile     string
	ResyncSchedule string

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration for change notifications
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisChannel  string

	// Security
	JWTSecret           string
	ConfigEncryptionKey string
}

// LoadDotEnv loads a .env file into the environment when one exists.
// Variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load creates a Config from environment variables. It does not validate.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		TLSCertFile:    getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:     getEnv("TLS_KEY_FILE", ""),
		RateLimitRPS:   getEnv("RATE_LIMIT_RPS", "10"),
		RateLimitBurst: getEnv("RATE_LIMIT_BURST", "20"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		LogMaxSizeMB:   getEnv("LOG_MAX_SIZE_MB", "100"),
		LogMaxBackups:  getEnv("LOG_MAX_BACKUPS", "3"),
		LogMaxAgeDays:  getEnv("LOG_MAX_AGE_DAYS", "28"),
		LogCompress:    getBoolEnv("LOG_COMPRESS", true),
		LogConsole:     getBoolEnv("LOG_CONSOLE", true),

		ClientMode:      getEnv("CLIENT_MODE", "sync"),
		AsyncWorkers:    getEnv("ASYNC_WORKERS", "0"),
		AsyncQueue:      getEnv("ASYNC_QUEUE", "64"),
		LenientPatterns: getBoolEnv("LENIENT_PATTERNS", false),
		CertFallbackDir: getEnv("CERT_FALLBACK_DIR", ""),

		ConfigSource:   getEnv("CONFIG_SOURCE", SourceStore),
		ConfigFile:     getEnv("CONFIG_FILE", ""),
		ResyncSchedule: getEnv("RESYNC_SCHEDULE", "@every 5m"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./outbound_router.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "outbound_router"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisChannel:  getEnv("REDIS_CHANNEL", "outbound-router:configs"),

		JWTSecret:           getEnv("JWT_SECRET", ""),
		ConfigEncryptionKey: getEnv("CONFIG_ENCRYPTION_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv returns defaultValue when the variable is unset or not a boolean.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields, formats and cross-field dependencies.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if rps, err := strconv.ParseFloat(c.RateLimitRPS, 64); err != nil || rps < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be a non-negative number")
	} else if burst, err := strconv.Atoi(c.RateLimitBurst); rps > 0 && (err != nil || burst < 1) {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled")
	}

	if err := c.validateLogging(); err != nil {
		return err
	}

	switch c.ClientMode {
	case "sync", "async":
	default:
		return fmt.Errorf("CLIENT_MODE must be 'sync' or 'async'")
	}
	if n, err := strconv.Atoi(c.AsyncWorkers); err != nil || n < 0 {
		return fmt.Errorf("ASYNC_WORKERS must be a non-negative number")
	}
	if n, err := strconv.Atoi(c.AsyncQueue); err != nil || n < 0 {
		return fmt.Errorf("ASYNC_QUEUE must be a non-negative number")
	}

	switch c.ConfigSource {
	case SourceStore:
		if err := c.validateDatabase(); err != nil {
			return err
		}
		if _, err := cron.ParseStandard(c.ResyncSchedule); err != nil {
			return fmt.Errorf("RESYNC_SCHEDULE is not a valid cron schedule: %w", err)
		}
	case SourceFile:
		if c.ConfigFile == "" {
			return fmt.Errorf("CONFIG_FILE is required when CONFIG_SOURCE is 'file'")
		}
	default:
		return fmt.Errorf("CONFIG_SOURCE must be 'store' or 'file'")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisChannel == "" {
			return fmt.Errorf("REDIS_CHANNEL must not be empty")
		}
	}

	return nil
}

func (c *Config) validateLogging() error {
	for name, value := range map[string]string{
		"LOG_MAX_SIZE_MB":  c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":  c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS": c.LogMaxAgeDays,
	} {
		if n, err := strconv.Atoi(value); err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative number", name)
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when using SQLite")
		}
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}
	return nil
}

// LogFileConfig returns the rotating file settings. Call after Validate.
func (c *Config) LogFileConfig() logging.FileConfig {
	return logging.FileConfig{
		Path:       c.LogFile,
		MaxSizeMB:  atoi(c.LogMaxSizeMB),
		MaxBackups: atoi(c.LogMaxBackups),
		MaxAgeDays: atoi(c.LogMaxAgeDays),
		Compress:   c.LogCompress,
		Console:    c.LogConsole,
	}
}

// AsyncSizing returns the async worker count and queue length. Call after Validate.
func (c *Config) AsyncSizing() (int, int) {
	return atoi(c.AsyncWorkers), atoi(c.AsyncQueue)
}

// RateLimit returns the admin API requests per second and burst. Call after Validate.
func (c *Config) RateLimit() (float64, int) {
	rps, _ := strconv.ParseFloat(c.RateLimitRPS, 64)
	return rps, atoi(c.RateLimitBurst)
}

// RedisDBNumber returns REDIS_DB as a number. Call after Validate.
func (c *Config) RedisDBNumber() int {
	return atoi(c.RedisDB)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
