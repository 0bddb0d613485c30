package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "nucache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.CollectInterval)
	assert.False(t, cfg.IgnoreLocalDB)
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
cache_dir: /var/lib/nucache
collect_interval: 2m
live_models: true
log_level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/nucache", cfg.CacheDir)
	assert.Equal(t, 2*time.Minute, cfg.CollectInterval)
	assert.True(t, cfg.LiveModels)
	assert.Equal(t, "debug", cfg.LogLevel)

	// unset fields keep their default
	cfg, err = Load(writeConfig(t, "ignore_local_db: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.IgnoreLocalDB)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "log_level: loud\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "cache_dir: ''\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "collect_interval: -1s\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.CacheDir = "/srv/nucache"
	cfg.CollectInterval = 90 * time.Second
	cfg.LiveModels = true

	path := filepath.Join(t.TempDir(), "nucache.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	assert.Error(t, cfg.Save(filepath.Join(t.TempDir(), "missing", "nucache.yaml")))
}
