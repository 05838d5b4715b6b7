package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the chat service.
type Config struct {
	Port string
	Env  string

	// Storage
	DatabaseURL string // PostgreSQL; takes precedence when set
	SQLitePath  string // development fallback
	RedisURL    string // optional presence cache + rate limiting
	NATSURL     string // optional cross-service event broker

	// Auth
	JWTSecret string

	// Gateway tuning
	SendQueueSize   int           // per-connection outbound buffer
	PresenceTimeout time.Duration // bound on presence counterpart queries

	// Rate limiting
	RequestRateLimit  int // REST requests per client per window
	RequestRateWindow time.Duration
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8004"),
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		RedisURL:          os.Getenv("REDIS_URL"),
		NATSURL:           os.Getenv("NATS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		SendQueueSize:     getEnvInt("SEND_QUEUE_SIZE", 256),
		PresenceTimeout:   getEnvDuration("PRESENCE_TIMEOUT", 3*time.Second),
		RequestRateLimit:  getEnvInt("REQUEST_RATE_LIMIT", 300),
		RequestRateWindow: getEnvDuration("REQUEST_RATE_WINDOW", time.Minute),
	}

	// The token secret is shared with the users service; there is no
	// sane default for it.
	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			panic("JWT_SECRET is required")
		}
		cfg.JWTSecret = "dev-secret"
	}

	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		panic("DATABASE_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
