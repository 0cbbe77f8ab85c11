package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, validate(cfg))
}

func TestInitialize_NoFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, 8765, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestInitialize_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "port: 9000\nmodel: claude-3-5-haiku-latest\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmem.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Model)
}

func TestInitialize_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "port: 9000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmem.yaml"), []byte(yamlContent), 0o644))

	t.Setenv("CMEM_PORT", "9500")

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, 9500, cfg.Port)
}

func TestInitialize_InvalidModelRejected(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "model: not-a-real-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmem.yaml"), []byte(yamlContent), 0o644))

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model validation failed")
}

func TestValidatePort_OutOfRange(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 80
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port validation failed")
}

func TestValidateTokenBudget_ExceedsCeiling(t *testing.T) {
	cfg := Defaults()
	cfg.MaxTokenBudget = 5000
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds the configurable ceiling")
}

func TestValidateQueue_StuckThresholdMustExceedScanPeriod(t *testing.T) {
	cfg := Defaults()
	cfg.Queue.StuckThreshold = cfg.Queue.StuckScanPeriod
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue validation failed")
}

func TestConfigDir_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ConfigDir())
}
