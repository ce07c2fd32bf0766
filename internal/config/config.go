// Package config loads the process configuration from environment
// variables. The configuration is read once at startup and never
// mutated afterwards; every component receives it by value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultTimeoutSeconds = 30
	defaultMaxRetries     = 3
)

// Config holds everything needed to talk to a Redmine instance.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	LogLevel   string
}

// FromEnv builds a Config from environment variables.
//
// REDMINE_URL and REDMINE_API_KEY are required; TIMEOUT_SECONDS
// (default 30), MAX_RETRIES (default 3) and LOG_LEVEL (default "info")
// are optional.
func FromEnv() (Config, error) {
	cfg, err := FromEnvPerRequest()
	if err != nil {
		return Config{}, err
	}
	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("REDMINE_API_KEY is required")
	}
	return cfg, nil
}

// FromEnvPerRequest is FromEnv for the serving modes where each
// request carries its own API key, so REDMINE_API_KEY need not be set.
func FromEnvPerRequest() (Config, error) {
	cfg := Config{
		BaseURL:    os.Getenv("REDMINE_URL"),
		APIKey:     os.Getenv("REDMINE_API_KEY"),
		Timeout:    defaultTimeoutSeconds * time.Second,
		MaxRetries: defaultMaxRetries,
		LogLevel:   "info",
	}

	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("REDMINE_URL is required")
	}

	if v := os.Getenv("TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return Config{}, fmt.Errorf("invalid TIMEOUT_SECONDS %q: must be a positive integer", v)
		}
		cfg.Timeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid MAX_RETRIES %q: must be a non-negative integer", v)
		}
		cfg.MaxRetries = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
