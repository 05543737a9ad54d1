package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("JWT_SECRET", "config-test-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)
	for _, key := range []string{"DB_DRIVER", "REDIS_KEY_PREFIX", "SERVER_PORT", "LOG_LEVEL", "NODE_ID",
		"BLOB_DIR", "PDF_VALIDATION_TIMEOUT", "MAX_UPLOAD_BYTES", "HTTP_RATE_LIMIT_MAX", "HTTP_RATE_LIMIT_WINDOW"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, "qa:", cfg.KeyPrefix)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 24, cfg.JWTExpiryHours)
	assert.NotEmpty(t, cfg.NodeID)
	assert.Equal(t, "./data/blobs", cfg.BlobDir)
	assert.Equal(t, 10*time.Second, cfg.PDFValidationTimeout)
	assert.Equal(t, int64(25<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("NODE_ID", "node-a")
	t.Setenv("PDF_VALIDATION_TIMEOUT", "3s")
	t.Setenv("MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("REDIS_DB", "2")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, 3*time.Second, cfg.PDFValidationTimeout)
	assert.Equal(t, int64(1<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 2, cfg.RedisDB)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("HTTP_RATE_LIMIT_WINDOW", "soon")
	t.Setenv("HTTP_RATE_LIMIT_MAX", "-5")
	t.Setenv("JWT_EXPIRY_HOURS", "a day")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, 24, cfg.JWTExpiryHours)
}

func TestLoadConfig_RequiredKeys(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"redis address", "REDIS_ADDR"},
		{"jwt secret", "JWT_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := LoadConfig()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.unset)
		})
	}
}

func TestLoadConfig_UnsupportedDriver(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_DRIVER", "oracle")

	_, err := LoadConfig()

	assert.Error(t, err)
}
