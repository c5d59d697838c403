package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORTAL_CONFIG", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Knowledge.ResultLimit)
	assert.Equal(t, 0.0, cfg.Knowledge.Temperature)
	assert.Equal(t, int64(100<<20), cfg.Knowledge.MaxUploadBytes)
	assert.False(t, cfg.AI.Enabled())
}

func TestLoadPortVariants(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	t.Setenv("PORT", "7000")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)

	t.Setenv("PORT", "70 00")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portal.toml")
	content := `
[gateway]
base_url = "http://engine.internal/Monolith"
insight_id = "insight-1"
rate_limit = 5.0

[knowledge]
result_limit = 5
default_model_id = "model-from-file"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PORTAL_CONFIG", path)
	t.Setenv("KNOWLEDGE_DEFAULT_MODEL", "model-from-env")
	t.Setenv("GATEWAY_TIMEOUT", "15")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://engine.internal/Monolith", cfg.Gateway.BaseURL)
	assert.Equal(t, "insight-1", cfg.Gateway.InsightID)
	assert.Equal(t, 15*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 1, cfg.Gateway.Burst)
	assert.Equal(t, 5, cfg.Knowledge.ResultLimit)
	assert.Equal(t, "model-from-env", cfg.Knowledge.DefaultModelID)
}

func TestLoadRejectsOutOfRangeKnowledge(t *testing.T) {
	t.Setenv("KNOWLEDGE_RESULT_LIMIT", "11")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNaNTemperature(t *testing.T) {
	t.Setenv("KNOWLEDGE_TEMPERATURE", "NaN")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("KNOWLEDGE_TEMPERATURE", "warm")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}
