package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

import:
  max_file_size_mb: 20
  preview_threshold: 2000
  sample_size: 500
  memory_budget_mb: 64

inference:
  enabled: true
  provider: "openai"
  api_key: "test-api-key"
  model: "gpt-4o"
  timeout_seconds: 3

storage:
  type: "local"
  local_path: "./test-data"

log:
  level: "debug"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, int64(20*1024*1024), cfg.Import.MaxFileSize())
	assert.Equal(t, 2000, cfg.Import.PreviewThreshold)
	assert.Equal(t, 500, cfg.Import.SampleSize)
	assert.Equal(t, int64(64*1024*1024), cfg.Import.MemoryBudgetBytes())

	assert.True(t, cfg.Inference.Enabled)
	assert.Equal(t, "test-api-key", cfg.Inference.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Inference.Model)
	assert.Equal(t, 3*time.Second, cfg.Inference.Timeout())

	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "./test-data", cfg.Storage.LocalPath)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  host: \"127.0.0.1\"\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 50, cfg.Import.MaxFileSizeMB)
	assert.Equal(t, 10000, cfg.Import.PreviewThreshold)
	assert.Equal(t, 5000, cfg.Import.SampleSize)
	assert.Equal(t, 256, cfg.Import.MemoryBudgetMB)
	assert.Equal(t, 2*time.Hour, cfg.Import.SessionTTL())
	assert.Equal(t, 5*time.Second, cfg.Inference.Timeout())
	assert.Equal(t, 20, cfg.Inference.MaxHeaders)
	assert.Equal(t, "none", cfg.Storage.Type)
	assert.Equal(t, "contacts", cfg.Database.Table)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
inference:
  api_key: "file-key"
  base_url: "https://file-url.com"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_BASE_URL", "https://env-url.com")
	t.Setenv("INFERENCE_ENABLED", "true")
	t.Setenv("DATABASE_URL", "postgres://localhost/crm")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Inference.APIKey)
	assert.Equal(t, "https://env-url.com", cfg.Inference.BaseURL)
	assert.True(t, cfg.Inference.Enabled)
	assert.Equal(t, "postgres://localhost/crm", cfg.Database.URL)
}

func TestLoadFromEnvMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Import.SampleSize = 20000
	cfg.Inference.Provider = "llama"
	cfg.Storage.Type = "aws"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "sample_size")
	assert.Contains(t, msg, "inference.provider")
	assert.Contains(t, msg, "s3_bucket")
	assert.Contains(t, msg, "dynamodb_table")
}

func TestValidateOpenAIRequiresKeyWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Inference.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "api_key")

	cfg.Inference.APIKey = "k"
	assert.NoError(t, cfg.Validate())
}
