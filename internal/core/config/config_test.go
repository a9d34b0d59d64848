package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Transport = "tcp:9229"
	cfg.Debugger.OptimisticVerification = false
	cfg.Log.BufferSize = 42

	require.NoError(t, cfg.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Transport, loaded.Transport)
	assert.Equal(t, cfg.Debugger.OptimisticVerification, loaded.Debugger.OptimisticVerification)
	assert.Equal(t, cfg.Log.BufferSize, loaded.Log.BufferSize)
}

func TestSaveWritesOwnerOnlyPermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, DefaultConfig().Save(dir))

	info, err := os.Stat(filepath.Join(dir, ConfigFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("not = [valid toml"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
