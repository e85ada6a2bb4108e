package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendAzure, cfg.Backend)
	assert.Empty(t, cfg.Vision.SubscriptionKey, "secrets have no default")
	assert.Equal(t, "en", cfg.OCR.Language)
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
backend: ollama
vision:
  model: llava
  timeout: 30s
ocr:
  enabled: true
  language: de
`)
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendOllama, cfg.Backend)
	assert.Equal(t, "llava", cfg.Vision.Model)
	assert.Equal(t, 30*time.Second, cfg.Vision.Timeout)
	assert.True(t, cfg.OCR.Enabled)
	assert.Equal(t, "de", cfg.OCR.Language)
	// untouched sections keep defaults
	assert.Equal(t, 90, cfg.Upload.JPEGQuality)
	assert.Equal(t, "jpg", cfg.Output.ImageFormat)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Vision.SubscriptionKey = "secret"
	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("VISION_SUBSCRIPTION_KEY", "from-env")
	t.Setenv("VISION_API_ROOT", "http://localhost:9999/vision/v1.0")
	t.Setenv("NARRATOR_OCR", "true")
	t.Setenv("VISION_TIMEOUT", "5s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Vision.SubscriptionKey)
	assert.Equal(t, "http://localhost:9999/vision/v1.0", cfg.Vision.APIRoot)
	assert.True(t, cfg.OCR.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Vision.Timeout)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unterminated"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "watson" }},
		{"negative timeout", func(c *Config) { c.Vision.Timeout = -time.Second }},
		{"bad jpeg quality", func(c *Config) { c.Upload.JPEGQuality = 0 }},
		{"ocr without language", func(c *Config) { c.OCR.Enabled = true; c.OCR.Language = " " }},
		{"bad output format", func(c *Config) { c.Output.ImageFormat = "tiff" }},
		{"bad output quality", func(c *Config) { c.Output.Quality = 101 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMissingSecretsAreValid(t *testing.T) {
	cfg := Default()
	cfg.Vision.SubscriptionKey = ""
	cfg.Vision.APIRoot = ""
	assert.NoError(t, cfg.Validate())
}
