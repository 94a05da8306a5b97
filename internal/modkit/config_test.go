package modkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Debug    bool   `yaml:"debug" toml:"debug"`
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

func TestLoadYAMLFeedsStruct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: true\nlog_level: debug\n"), 0o600))

	var cfg testConfig
	require.NoError(t, LoadYAML(path, &cfg))
	assert.True(t, cfg.Debug)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadYAMLMissingFileIsFatalConfig(t *testing.T) {
	var cfg testConfig
	err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	require.Error(t, err)
	assert.Equal(t, KindFatalConfig, GetKind(err))
}

func TestLoadTOMLFeedsStruct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("debug = true\nlog_level = \"warn\"\n"), 0o600))

	var cfg testConfig
	require.NoError(t, LoadTOML(path, &cfg))
	assert.True(t, cfg.Debug)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadTOMLMissingFileIsFatalConfig(t *testing.T) {
	var cfg testConfig
	err := LoadTOML(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
	require.Error(t, err)
	assert.Equal(t, KindFatalConfig, GetKind(err))
}

func TestRequireEnvFatalWhenAbsentAndNotDebug(t *testing.T) {
	os.Unsetenv("MODKIT_TEST_REQUIRED_VAR")
	_, err := RequireEnv("MODKIT_TEST_REQUIRED_VAR", false)
	require.Error(t, err)
	assert.Equal(t, KindFatalConfig, GetKind(err))
}

func TestRequireEnvAllowsAbsentInDebug(t *testing.T) {
	os.Unsetenv("MODKIT_TEST_REQUIRED_VAR")
	v, err := RequireEnv("MODKIT_TEST_REQUIRED_VAR", true)
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestRequireEnvReturnsSetValue(t *testing.T) {
	t.Setenv("MODKIT_TEST_REQUIRED_VAR", "secret-value")
	v, err := RequireEnv("MODKIT_TEST_REQUIRED_VAR", false)
	require.NoError(t, err)
	assert.Equal(t, "secret-value", v)
}
