// Package config holds the cache configuration.
package config

import (
	"os"
	"time"

	"github.com/martinjgriffiths/nucache/ioutils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config configures a cache service.
type Config struct {
	// CacheDir is the directory holding the local cache files.
	CacheDir string `yaml:"cache_dir"`

	// IgnoreLocalDB disables the local cache: every start loads from the
	// authoritative source and nothing is mirrored to disk.
	IgnoreLocalDB bool `yaml:"ignore_local_db"`

	// CollectInterval is the period of background version collection. Zero
	// disables it; Collect can still be called explicitly.
	CollectInterval time.Duration `yaml:"collect_interval"`

	// LiveModels reloads every tree on content type changes.
	LiveModels bool `yaml:"live_models"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		CacheDir:        "data/NuCache",
		CollectInterval: 30 * time.Second,
		LogLevel:        "info",
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Save writes the configuration to path in the format Load reads.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return errors.Wrapf(ioutils.AtomicWriteFile(path, data, 0o644), "failed to write %s", path)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.CacheDir == "" && !c.IgnoreLocalDB {
		return errors.New("cache_dir is required unless ignore_local_db is set")
	}
	if c.CollectInterval < 0 {
		return errors.Errorf("collect_interval must not be negative, got %s", c.CollectInterval)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	return nil
}
