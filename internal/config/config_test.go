package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("REDMINE_URL", "https://redmine.example.com")
	t.Setenv("REDMINE_API_KEY", "secret")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEOUT_SECONDS", "")
	t.Setenv("MAX_RETRIES", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BaseURL != "https://redmine.example.com" {
		t.Errorf("unexpected base URL: %q", cfg.BaseURL)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("unexpected API key: %q", cfg.APIKey)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.Timeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
}

func TestFromEnv_MissingURL(t *testing.T) {
	t.Setenv("REDMINE_URL", "")
	t.Setenv("REDMINE_API_KEY", "secret")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error for missing REDMINE_URL")
	}
	if !strings.Contains(err.Error(), "REDMINE_URL") {
		t.Errorf("error must name the missing variable, got %q", err.Error())
	}
}

func TestFromEnv_MissingAPIKey(t *testing.T) {
	t.Setenv("REDMINE_URL", "https://redmine.example.com")
	t.Setenv("REDMINE_API_KEY", "")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error for missing REDMINE_API_KEY")
	}
	if !strings.Contains(err.Error(), "REDMINE_API_KEY") {
		t.Errorf("error must name the missing variable, got %q", err.Error())
	}
}

func TestFromEnvPerRequest_AllowsMissingAPIKey(t *testing.T) {
	t.Setenv("REDMINE_URL", "https://redmine.example.com")
	t.Setenv("REDMINE_API_KEY", "")

	cfg, err := FromEnvPerRequest()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "" {
		t.Errorf("expected empty API key, got %q", cfg.APIKey)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEOUT_SECONDS", "5")
	t.Setenv("MAX_RETRIES", "0")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Timeout)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("expected max retries 0, got %d", cfg.MaxRetries)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.LogLevel)
	}
}

func TestFromEnv_InvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric timeout", "TIMEOUT_SECONDS", "soon"},
		{"zero timeout", "TIMEOUT_SECONDS", "0"},
		{"negative timeout", "TIMEOUT_SECONDS", "-1"},
		{"non-numeric retries", "MAX_RETRIES", "many"},
		{"negative retries", "MAX_RETRIES", "-2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.value)

			if _, err := FromEnv(); err == nil {
				t.Errorf("expected error for %s=%q", tc.key, tc.value)
			}
		})
	}
}
