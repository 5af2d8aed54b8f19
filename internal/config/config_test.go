package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 40.0, cfg.OCR.MinConfidence)
	assert.Equal(t, 10, cfg.OCR.MinTextLength)
	assert.Equal(t, 75.0, cfg.Institutions.Threshold)
	assert.Equal(t, 10.0, cfg.Institutions.SubstringBonus)
	assert.Equal(t, 5, cfg.Face.MinNeighbors)
	assert.Equal(t, 30, cfg.Face.MinSize)
	assert.Equal(t, int64(40_000_000), cfg.Server.MaxImagePixels)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OCR.MinConfidence = 140
	cfg.Orientation.Mode = "sideways"
	cfg.Classifier.Backend = "torch"
	cfg.Diagnostics.Mode = DiagnosticsGCS
	cfg.Server.MaxImagePixels = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.min_confidence")
	assert.Contains(t, err.Error(), "orientation.mode")
	assert.Contains(t, err.Error(), "classifier.backend")
	assert.Contains(t, err.Error(), "diagnostics.bucket")
	assert.Contains(t, err.Error(), "server.max_image_pixels")
}

func TestValidateAuthSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg.Auth.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewLoader().Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idcheck.yaml")
	content := `
log_level: debug
ocr:
  min_confidence: 55
institutions:
  names: ["Osmania University"]
pipeline:
  branch_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("IDCHECK_SERVER_ADDR", ":9090")
	t.Setenv("IDCHECK_CLASSIFIER_BACKEND", "grpc")

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 55.0, cfg.OCR.MinConfidence)
	assert.Equal(t, []string{"Osmania University"}, cfg.Institutions.Names)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.BranchTimeout)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, ClassifierGRPC, cfg.Classifier.Backend)
	assert.Equal(t, 10, cfg.OCR.MinTextLength)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("orientation:\n  mode: upside\n"), 0o600))

	_, err := NewLoader().Load(path)
	assert.ErrorContains(t, err, "orientation.mode")
}
