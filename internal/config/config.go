package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv     string
	Port        string
	JWTSecret   string
	SessionIdle time.Duration
	FrontendDir string
	PublicURL   string
	Database    DatabaseConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Cache       CacheConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level    string
	Encoding string
}

// HTTPConfig holds the browser-facing knobs
type HTTPConfig struct {
	CORSOrigins        []string
	LoginRatePerMinute int
}

// CacheConfig selects the department cache backend. An empty RedisAddr
// means the in-process cache is used.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	idle, err := strconv.Atoi(getEnv("SESSION_IDLE_MINUTES", "15"))
	if err != nil || idle <= 0 {
		return nil, fmt.Errorf("SESSION_IDLE_MINUTES must be a positive integer")
	}
	loginRate, err := strconv.Atoi(getEnv("LOGIN_RATE_PER_MINUTE", "10"))
	if err != nil || loginRate <= 0 {
		return nil, fmt.Errorf("LOGIN_RATE_PER_MINUTE must be a positive integer")
	}
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	cacheTTL, err := time.ParseDuration(getEnv("CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("CACHE_TTL: %w", err)
	}

	port := getEnv("PORT", "3210")

	return &Config{
		NodeEnv:     getEnv("NODE_ENV", "development"),
		Port:        port,
		JWTSecret:   jwtSecret,
		SessionIdle: time.Duration(idle) * time.Minute,
		FrontendDir: os.Getenv("FRONTEND_DIR"),
		PublicURL:   strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:"+port), "/"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "invtrack"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: os.Getenv("LOG_ENCODING"),
		},
		HTTP: HTTPConfig{
			CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "*")),
			LoginRatePerMinute: loginRate,
		},
		Cache: CacheConfig{
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       redisDB,
			TTL:           cacheTTL,
		},
	}, nil
}

// IsProduction reports whether NODE_ENV selects production behaviour
func (c *Config) IsProduction() bool {
	return c.NodeEnv == "production"
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
