package config

import (
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"WORKERS", "MAX_ATTEMPTS", "RETRY_BASE_DELAY", "RETRY_MAX_DELAY",
	"CACHE_PATH", "TEXT_PROVIDER", "LANGUAGE_HINTS",
	"OPENAI_API_KEY", "OPENAI_MODEL",
	"OUTPUT_DIR", "BASENAME",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_TIME_FORMAT", "LOG_OUTPUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.RetryBaseDelay != 500*time.Millisecond || cfg.RetryMaxDelay != 8*time.Second {
		t.Errorf("retry delays = %s/%s", cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	if cfg.TextProvider != ProviderVision {
		t.Errorf("TextProvider = %q, want %q", cfg.TextProvider, ProviderVision)
	}
	if cfg.CachePath != "documentarist-cache.db" {
		t.Errorf("CachePath = %q", cfg.CachePath)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("OpenAIModel = %q", cfg.OpenAIModel)
	}
	if cfg.OutputDir != "." || cfg.Basename != "document" {
		t.Errorf("output = %q/%q", cfg.OutputDir, cfg.Basename)
	}
	if cfg.LanguageHints != nil {
		t.Errorf("LanguageHints = %v, want nil", cfg.LanguageHints)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "console" {
		t.Errorf("logging = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKERS", "8")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_BASE_DELAY", "2s")
	t.Setenv("RETRY_MAX_DELAY", "30s")
	t.Setenv("TEXT_PROVIDER", "documentai")
	t.Setenv("LANGUAGE_HINTS", "en, de,")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("OUTPUT_DIR", "/tmp/out")
	t.Setenv("BASENAME", "scan")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 8 || cfg.MaxAttempts != 5 {
		t.Errorf("Workers/MaxAttempts = %d/%d", cfg.Workers, cfg.MaxAttempts)
	}
	if cfg.RetryBaseDelay != 2*time.Second || cfg.RetryMaxDelay != 30*time.Second {
		t.Errorf("retry delays = %s/%s", cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	if cfg.TextProvider != ProviderDocumentAI {
		t.Errorf("TextProvider = %q", cfg.TextProvider)
	}
	if len(cfg.LanguageHints) != 2 || cfg.LanguageHints[0] != "en" || cfg.LanguageHints[1] != "de" {
		t.Errorf("LanguageHints = %v, want [en de]", cfg.LanguageHints)
	}
	if cfg.OpenAIModel != "gpt-4o" || cfg.OutputDir != "/tmp/out" || cfg.Basename != "scan" {
		t.Errorf("OpenAIModel/OutputDir/Basename = %q/%q/%q", cfg.OpenAIModel, cfg.OutputDir, cfg.Basename)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"WORKERS", "0", "WORKERS"},
		{"WORKERS", "many", "WORKERS"},
		{"MAX_ATTEMPTS", "0", "MAX_ATTEMPTS"},
		{"RETRY_BASE_DELAY", "soon", "RETRY_BASE_DELAY"},
		{"RETRY_MAX_DELAY", "100ms", "RETRY_MAX_DELAY"},
		{"TEXT_PROVIDER", "tesseract", "TEXT_PROVIDER"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load accepted %s=%s", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not name %s", err, tc.want)
			}
		})
	}
}

func TestGetLoggerConfig(t *testing.T) {
	cfg := &Config{
		LogLevel:      "debug",
		LogFormat:     "json",
		LogTimeFormat: time.RFC3339,
		LogOutput:     "stderr",
	}
	lc := cfg.GetLoggerConfig()
	if lc.Level != "debug" || lc.Format != "json" || lc.Output != "stderr" {
		t.Errorf("logger config = %+v", lc)
	}
}
