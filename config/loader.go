package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Environment variables recognized by Load. They override both the
// defaults and any config file.
const (
	EnvDBURL            = "PROMOENGINE_DB_URL"
	EnvRedisURL         = "PROMOENGINE_REDIS_URL"
	EnvNATSURL          = "PROMOENGINE_NATS_URL"
	EnvHTTPAddr         = "PROMOENGINE_HTTP_ADDR"
	EnvSegmentURL       = "PROMOENGINE_SEGMENT_URL"
	EnvEvalTimeoutMS    = "PROMOENGINE_EVAL_TIMEOUT_MS"
	EnvWorkflowCacheCap = "PROMOENGINE_WORKFLOW_CACHE_CAP"
	EnvKeyExpiry        = "PROMOENGINE_KEY_EXPIRY"
)

// Loader loads configuration with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load builds the effective configuration:
// 1. Defaults
// 2. Config file (when path is non-empty)
// 3. Environment variables
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		l.logger.Debug("loaded config file", "path", path)
		config.Merge(fileConfig)
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overlays recognized environment variables onto config.
func (l *Loader) applyEnv(config *Config) error {
	if v := os.Getenv(EnvDBURL); v != "" {
		config.Database.URL = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		config.Cache.URL = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		config.NATS.URL = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		config.HTTP.Addr = v
	}
	if v := os.Getenv(EnvSegmentURL); v != "" {
		config.Segments.URL = v
	}
	if v := os.Getenv(EnvEvalTimeoutMS); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s=%q: %w", EnvEvalTimeoutMS, v, err)
		}
		config.Engine.EvaluationTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv(EnvWorkflowCacheCap); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s=%q: %w", EnvWorkflowCacheCap, v, err)
		}
		config.Engine.WorkflowCacheCap = n
	}
	if v := os.Getenv(EnvKeyExpiry); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s=%q: %w", EnvKeyExpiry, v, err)
		}
		config.Cache.KeyExpiry = d
	}
	return nil
}
