package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Census.APIKey)
	assert.InDelta(t, 50.0, cfg.Census.RateLimit, 0.001)
	assert.Equal(t, 50, cfg.Census.Concurrency)
	assert.InDelta(t, 20.0, cfg.TIGERWeb.RateLimit, 0.001)
	assert.Equal(t, 2021, cfg.TIGERWeb.BoundaryYear)
	assert.NotEmpty(t, cfg.Cache.Path)
	assert.False(t, cfg.Cache.Disabled)
	assert.Equal(t, 720, cfg.Cache.TTLHours)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 30000, cfg.Retry.MaxBackoffMs)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.InDelta(t, 0.25, cfg.Retry.JitterFraction, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
census:
  api_key: abc123
  concurrency: 10
cache:
  disabled: true
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "abc123", cfg.Census.APIKey)
	assert.Equal(t, 10, cfg.Census.Concurrency)
	assert.True(t, cfg.Cache.Disabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.InDelta(t, 50.0, cfg.Census.RateLimit, 0.001)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
census:
  api_key: from-file
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CENSAURUS_CENSUS_API_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Census.APIKey)
}

func TestDefaultCachePath(t *testing.T) {
	p := DefaultCachePath()
	assert.NotEmpty(t, p)
	assert.Contains(t, p, "censaurus")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "json"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "console"}))

	err := InitLogger(LogConfig{Level: "not-a-level"})
	assert.Error(t, err)
}
