package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caltechlibrary/documentarist/internal/logger"
)

// Text recognition providers.
const (
	ProviderVision     = "vision"
	ProviderDocumentAI = "documentai"
)

type Config struct {
	// Run Execution
	Workers        int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Service Call Cache
	CachePath string

	// Recognition Services
	TextProvider  string
	LanguageHints []string

	// OpenAI Configuration
	OpenAIAPIKey string
	OpenAIModel  string

	// Output Configuration
	OutputDir string
	Basename  string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	workers, err := getEnvInt("WORKERS", 4)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := getEnvInt("MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	baseDelay, err := getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	maxDelay, err := getEnvDuration("RETRY_MAX_DELAY", 8*time.Second)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Workers:        workers,
		MaxAttempts:    maxAttempts,
		RetryBaseDelay: baseDelay,
		RetryMaxDelay:  maxDelay,
		CachePath:      getEnv("CACHE_PATH", "documentarist-cache.db"),
		TextProvider:   getEnv("TEXT_PROVIDER", ProviderVision),
		LanguageHints:  splitList(getEnv("LANGUAGE_HINTS", "")),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OutputDir:      getEnv("OUTPUT_DIR", "."),
		Basename:       getEnv("BASENAME", "document"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:  getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:      getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive, got %s", c.RetryBaseDelay)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must be at least RETRY_BASE_DELAY, got %s", c.RetryMaxDelay)
	}
	if c.TextProvider != ProviderVision && c.TextProvider != ProviderDocumentAI {
		return fmt.Errorf("TEXT_PROVIDER must be %q or %q, got %q", ProviderVision, ProviderDocumentAI, c.TextProvider)
	}
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}
	if c.Basename == "" {
		return fmt.Errorf("BASENAME is required")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 500ms or 8s, got %q", key, value)
	}
	return d, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
