package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every CREDVAULT_ env var that Load() reads.
var allConfigKeys = []string{
	"CREDVAULT_LISTEN_ADDR",
	"CREDVAULT_DB_PATH",
	"CREDVAULT_LOG_LEVEL",
	"CREDVAULT_MASTER_SECRET",
	"CREDVAULT_KDF_SALT",
	"CREDVAULT_KDF_ITERATIONS",
	"CREDVAULT_RATE_LIMIT_ATTEMPTS",
	"CREDVAULT_RATE_LIMIT_WINDOW",
	"CREDVAULT_LIVE_VALIDATION_TIMEOUT",
	"CREDVAULT_VALIDATION_CACHE_TTL",
	"CREDVAULT_MASK_CHARS",
	"CREDVAULT_GITHUB_API_URL",
	"CREDVAULT_ROTATION_AGE",
	"CREDVAULT_ROTATION_SCHEDULE",
	"CREDVAULT_MCP_USER",
}

const testSecret = "0123456789abcdef-test-secret"

// isolateConfigEnv saves and unsets all CREDVAULT_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CREDVAULT_MASTER_SECRET", testSecret)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "credvault.db", cfg.DBPath)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, DefaultKDFSalt, cfg.KDFSalt)
	assert.Equal(t, 100_000, cfg.KDFIterations)
	assert.Equal(t, 5, cfg.RateLimitAttempts)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 10*time.Second, cfg.LiveValidationTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ValidationCacheTTL)
	assert.Equal(t, 4, cfg.MaskChars)
	assert.Empty(t, cfg.GitHubAPIURL)
	assert.Equal(t, 2160*time.Hour, cfg.RotationAge)
	assert.Equal(t, "@daily", cfg.RotationSchedule)
	assert.Empty(t, cfg.MCPUser)
}

func TestLoad_Overrides(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CREDVAULT_MASTER_SECRET", testSecret)
	t.Setenv("CREDVAULT_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("CREDVAULT_DB_PATH", "/tmp/test.db")
	t.Setenv("CREDVAULT_LOG_LEVEL", "debug")
	t.Setenv("CREDVAULT_KDF_SALT", "custom-salt")
	t.Setenv("CREDVAULT_KDF_ITERATIONS", "250000")
	t.Setenv("CREDVAULT_RATE_LIMIT_ATTEMPTS", "10")
	t.Setenv("CREDVAULT_RATE_LIMIT_WINDOW", "2m")
	t.Setenv("CREDVAULT_LIVE_VALIDATION_TIMEOUT", "3s")
	t.Setenv("CREDVAULT_VALIDATION_CACHE_TTL", "1m")
	t.Setenv("CREDVAULT_MASK_CHARS", "6")
	t.Setenv("CREDVAULT_GITHUB_API_URL", "https://ghe.example.com/api/v3/")
	t.Setenv("CREDVAULT_ROTATION_AGE", "720h")
	t.Setenv("CREDVAULT_ROTATION_SCHEDULE", "0 3 * * *")
	t.Setenv("CREDVAULT_MCP_USER", " alice ")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "custom-salt", cfg.KDFSalt)
	assert.Equal(t, 250_000, cfg.KDFIterations)
	assert.Equal(t, 10, cfg.RateLimitAttempts)
	assert.Equal(t, 2*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 3*time.Second, cfg.LiveValidationTimeout)
	assert.Equal(t, time.Minute, cfg.ValidationCacheTTL)
	assert.Equal(t, 6, cfg.MaskChars)
	assert.Equal(t, "https://ghe.example.com/api/v3/", cfg.GitHubAPIURL)
	assert.Equal(t, 720*time.Hour, cfg.RotationAge)
	assert.Equal(t, "0 3 * * *", cfg.RotationSchedule)
	assert.Equal(t, "alice", cfg.MCPUser)
}

func TestLoad_MasterSecret(t *testing.T) {
	isolateConfigEnv(t)

	_, err := Load()
	assert.ErrorContains(t, err, "CREDVAULT_MASTER_SECRET is required")

	t.Setenv("CREDVAULT_MASTER_SECRET", "short")
	_, err = Load()
	assert.ErrorContains(t, err, "at least 16 characters")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"iterations below minimum", "CREDVAULT_KDF_ITERATIONS", "1000", "at least 100000"},
		{"iterations not a number", "CREDVAULT_KDF_ITERATIONS", "many", "invalid integer"},
		{"zero attempts", "CREDVAULT_RATE_LIMIT_ATTEMPTS", "0", "at least 1"},
		{"bad window", "CREDVAULT_RATE_LIMIT_WINDOW", "soon", "invalid duration"},
		{"negative timeout", "CREDVAULT_LIVE_VALIDATION_TIMEOUT", "-1s", "must be positive"},
		{"bad ttl", "CREDVAULT_VALIDATION_CACHE_TTL", "5", "invalid duration"},
		{"zero mask chars", "CREDVAULT_MASK_CHARS", "0", "at least 1"},
		{"bad rotation age", "CREDVAULT_ROTATION_AGE", "90d", "invalid duration"},
		{"bad schedule", "CREDVAULT_ROTATION_SCHEDULE", "whenever", "invalid schedule"},
		{"bad log level", "CREDVAULT_LOG_LEVEL", "loud", "invalid level"},
		{"empty salt", "CREDVAULT_KDF_SALT", "", "must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv("CREDVAULT_MASTER_SECRET", testSecret)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()

			assert.Nil(t, cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
