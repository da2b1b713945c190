// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultKDFSalt is used when CREDVAULT_KDF_SALT is unset. Deployments
// should set their own salt; changing it makes existing rows unreadable.
const DefaultKDFSalt = "credvault/v1/credential-encryption"

const (
	minMasterSecretLength = 16
	minKDFIterations      = 100_000
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	MasterSecret  string
	KDFSalt       string
	KDFIterations int

	RateLimitAttempts     int
	RateLimitWindow       time.Duration
	LiveValidationTimeout time.Duration
	ValidationCacheTTL    time.Duration
	MaskChars             int

	GitHubAPIURL string

	RotationAge      time.Duration
	RotationSchedule string

	// MCPUser is the user the MCP server acts for when a tool call omits user_id.
	MCPUser string
}

// Load reads configuration from environment variables and returns a validated Config.
// CREDVAULT_MASTER_SECRET is required and must be at least 16 characters. All
// other variables are optional:
// CREDVAULT_LISTEN_ADDR (127.0.0.1:8080), CREDVAULT_DB_PATH (credvault.db),
// CREDVAULT_LOG_LEVEL (info), CREDVAULT_KDF_SALT, CREDVAULT_KDF_ITERATIONS
// (100000, minimum 100000), CREDVAULT_RATE_LIMIT_ATTEMPTS (5),
// CREDVAULT_RATE_LIMIT_WINDOW (60s), CREDVAULT_LIVE_VALIDATION_TIMEOUT (10s),
// CREDVAULT_VALIDATION_CACHE_TTL (5m), CREDVAULT_MASK_CHARS (4),
// CREDVAULT_GITHUB_API_URL, CREDVAULT_ROTATION_AGE (2160h),
// CREDVAULT_ROTATION_SCHEDULE (@daily) and CREDVAULT_MCP_USER.
func Load() (*Config, error) {
	secret := os.Getenv("CREDVAULT_MASTER_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("CREDVAULT_MASTER_SECRET is required")
	}
	if len(secret) < minMasterSecretLength {
		return nil, fmt.Errorf("CREDVAULT_MASTER_SECRET must be at least %d characters", minMasterSecretLength)
	}

	cfg := &Config{
		ListenAddr:   envString("CREDVAULT_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:       envString("CREDVAULT_DB_PATH", "credvault.db"),
		MasterSecret: secret,
		KDFSalt:      envString("CREDVAULT_KDF_SALT", DefaultKDFSalt),
		GitHubAPIURL: strings.TrimSpace(os.Getenv("CREDVAULT_GITHUB_API_URL")),

		RotationSchedule: envString("CREDVAULT_ROTATION_SCHEDULE", "@daily"),
		MCPUser:          strings.TrimSpace(os.Getenv("CREDVAULT_MCP_USER")),
	}
	if cfg.KDFSalt == "" {
		return nil, fmt.Errorf("CREDVAULT_KDF_SALT must not be empty")
	}

	var err error
	if cfg.LogLevel, err = envLogLevel("CREDVAULT_LOG_LEVEL", slog.LevelInfo); err != nil {
		return nil, err
	}
	if cfg.KDFIterations, err = envInt("CREDVAULT_KDF_ITERATIONS", minKDFIterations, minKDFIterations); err != nil {
		return nil, err
	}
	if cfg.RateLimitAttempts, err = envInt("CREDVAULT_RATE_LIMIT_ATTEMPTS", 5, 1); err != nil {
		return nil, err
	}
	if cfg.MaskChars, err = envInt("CREDVAULT_MASK_CHARS", 4, 1); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = envDuration("CREDVAULT_RATE_LIMIT_WINDOW", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.LiveValidationTimeout, err = envDuration("CREDVAULT_LIVE_VALIDATION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ValidationCacheTTL, err = envDuration("CREDVAULT_VALIDATION_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RotationAge, err = envDuration("CREDVAULT_ROTATION_AGE", 90*24*time.Hour); err != nil {
		return nil, err
	}

	if _, err := cron.ParseStandard(cfg.RotationSchedule); err != nil {
		return nil, fmt.Errorf("CREDVAULT_ROTATION_SCHEDULE has invalid schedule %q: %w", cfg.RotationSchedule, err)
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def, minimum int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if n < minimum {
		return 0, fmt.Errorf("%s must be at least %d, got %d", key, minimum, n)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func envLogLevel(key string, def slog.Level) (slog.Level, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return 0, fmt.Errorf("%s has invalid level %q: %w", key, v, err)
	}
	return level, nil
}
