package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixturePath = "../../datasource/memsource/testdata/site.yaml"

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("config", "c", "", "")
	flags.StringP("cache-dir", "d", "", "")
	flags.StringP("log-level", "l", "", "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func run(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	mainCmd.SetOut(&out)
	mainCmd.SetErr(&out)
	mainCmd.SetArgs(args)
	err := mainCmd.Execute()
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(testFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "data/NuCache", cfg.CacheDir)

	path := filepath.Join(t.TempDir(), "nucache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_dir: /var/cache/nucache\nlog_level: warn\n"), 0o600))

	cfg, err = loadConfig(testFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/nucache", cfg.CacheDir)
	assert.Equal(t, "warn", cfg.LogLevel)

	cfg, err = loadConfig(testFlags(t, "-c", path, "-d", "/tmp/cache", "-l", "debug"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cache", cfg.CacheDir)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = loadConfig(testFlags(t, "-l", "loud"))
	assert.Error(t, err)
}

func TestLoadVerifyInvalidate(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "verify", "--cache-dir", dir)
	assert.Error(t, err)

	out, err := run(t, "load", "--seed", fixturePath, "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "content: 4 items")

	out, err = run(t, "verify", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "local caches are valid")

	out, err = run(t, "invalidate", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "NuCache.Content.db")

	_, err = run(t, "verify", "--cache-dir", dir)
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "config", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "cache_dir: "+dir)

	path := filepath.Join(dir, "nucache.yaml")
	_, err = run(t, "config", "--cache-dir", dir, "--output", path)
	require.NoError(t, err)

	cfg, err := loadConfig(testFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.CacheDir)
}
