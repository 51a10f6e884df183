package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PassesValidation(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestDefault_SetsRRFWeightsPerSpec(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1.0, cfg.Search.SemanticWeight)
	assert.Equal(t, 2.0, cfg.Search.FTSWeight)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())
	defer os.Unsetenv("XDG_CONFIG_HOME")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default().Search.RRFConstant, cfg.Search.RRFConstant)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())
	defer os.Unsetenv("XDG_CONFIG_HOME")

	content := "search:\n  rrf_constant: 30\n  half_life_days: 7\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Search.RRFConstant)
	assert.Equal(t, 7.0, cfg.Search.HalfLifeDays)
}

func TestLoad_EnvOverridesStorePath(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())
	defer os.Unsetenv("XDG_CONFIG_HOME")
	os.Setenv("KEEP_STORE_PATH", "/custom/store")
	defer os.Unsetenv("KEEP_STORE_PATH")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/custom/store", cfg.Store.Path)
}

func TestLoad_EnvTagsBecomeDefaultTags(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())
	defer os.Unsetenv("XDG_CONFIG_HOME")
	os.Setenv("KEEP_TAG_PROJECT", "keep")
	defer os.Unsetenv("KEEP_TAG_PROJECT")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "keep", cfg.DefaultTags["project"])
}

func TestValidate_RejectsNonPositiveSummaryMaxLength(t *testing.T) {
	cfg := Default()
	cfg.Summary.MaxLength = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNegativeHalfLife(t *testing.T) {
	cfg := Default()
	cfg.Search.HalfLifeDays = -1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Search.RRFConstant = 42
	path := filepath.Join(t.TempDir(), "keep.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rrf_constant: 42")
}

func TestUserConfigPath_RespectsXDG(t *testing.T) {
	tmp := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmp)
	defer os.Unsetenv("XDG_CONFIG_HOME")
	assert.Equal(t, filepath.Join(tmp, "keep", "keep.yaml"), UserConfigPath())
}
