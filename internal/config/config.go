// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	PromptsFile  string
	BudgetsFile  string
	SessionTTL   time.Duration
	MaxRevisions int // 0 = unlimited
	Ranked       RankedConfig
	Grader       GraderConfig
	RateLimit    RateLimitConfig
	Timeout      TimeoutConfig
	Retry        RetryConfig
}

// RankedConfig controls access to ranked sessions.
type RankedConfig struct {
	DailyLimit  int
	MinPractice int
}

// GraderConfig selects and tunes the grading backend.
type GraderConfig struct {
	Backend           string // "openai" or "grpc"
	BaseURL           string
	APIKey            string
	Model             string
	Addr              string
	RequestsPerMinute int
	PerToken          time.Duration
	Temperature       float32
}

// RateLimitConfig bounds per-user draft submissions.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// TimeoutConfig holds timeouts for background and health operations.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Persist     time.Duration
}

// RetryConfig controls retries on SQLite lock contention.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/inkwell.db"),
		PromptsFile:  getEnv("PROMPTS_FILE", ""),
		BudgetsFile:  getEnv("BUDGETS_FILE", ""),
		SessionTTL:   getEnvDuration("SESSION_TTL", 60*time.Minute),
		MaxRevisions: getEnvInt("MAX_REVISIONS", 0),
		Ranked: RankedConfig{
			DailyLimit:  getEnvInt("RANKED_DAILY_LIMIT", 3),
			MinPractice: getEnvInt("RANKED_MIN_PRACTICE", 1),
		},
		Grader: GraderConfig{
			Backend:           strings.ToLower(getEnv("GRADER_BACKEND", "openai")),
			BaseURL:           getEnv("OPENAI_BASE_URL", ""),
			APIKey:            getEnv("OPENAI_API_KEY", ""),
			Model:             getEnv("GRADER_MODEL", "gpt-4o-mini"),
			Addr:              getEnv("GRADER_ADDR", "localhost:50051"),
			RequestsPerMinute: getEnvInt("GRADER_RPM", 60),
			PerToken:          getEnvDuration("GRADER_PER_TOKEN", 20*time.Millisecond),
			Temperature:       float32(getEnvFloat("GRADER_TEMPERATURE", 0.2)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Persist:     getEnvDuration("PERSIST_TIMEOUT", 5*time.Second),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.MaxRevisions < 0 {
		return fmt.Errorf("MAX_REVISIONS must be >= 0")
	}
	if c.Ranked.DailyLimit <= 0 {
		return fmt.Errorf("RANKED_DAILY_LIMIT must be > 0")
	}
	if c.Ranked.MinPractice < 0 {
		return fmt.Errorf("RANKED_MIN_PRACTICE must be >= 0")
	}
	switch c.Grader.Backend {
	case "openai":
		if c.Grader.Model == "" {
			return fmt.Errorf("GRADER_MODEL cannot be empty")
		}
	case "grpc":
		if c.Grader.Addr == "" {
			return fmt.Errorf("GRADER_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("GRADER_BACKEND must be openai or grpc, got %q", c.Grader.Backend)
	}
	if c.Grader.RequestsPerMinute <= 0 {
		return fmt.Errorf("GRADER_RPM must be > 0")
	}
	if c.Grader.PerToken <= 0 {
		return fmt.Errorf("GRADER_PER_TOKEN must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Retry.DatabaseMaxRetries <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return DevMode() || c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// DevMode reports whether APP_DEV or APP_ENV explicitly selects development.
func DevMode() bool {
	return getEnvBool("APP_DEV", false) || os.Getenv("APP_ENV") == "development"
}
