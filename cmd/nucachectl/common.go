package main

import (
	"context"
	"fmt"
	"io"

	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/config"
	"github.com/martinjgriffiths/nucache/localdb"
	"github.com/martinjgriffiths/nucache/log"
	"github.com/spf13/pflag"
)

// loadConfig reads the configuration file named by the flags, if any, and
// applies the flag overrides.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if flags.Changed("cache-dir") {
		if cfg.CacheDir, err = flags.GetString("cache-dir"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("log-level") {
		if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func commandContext() context.Context {
	return log.WithModule(context.Background(), "nucachectl")
}

// forEachCache opens the local cache of every tree in turn.
func forEachCache(cfg *config.Config, fn func(c *localdb.Cache) error) error {
	for _, tree := range api.Trees {
		c, err := localdb.Open(cfg.CacheDir, tree)
		if err != nil {
			return err
		}
		err = fn(c)
		if cerr := c.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// fprintfIfNotEmpty prints only if v is not empty.
func fprintfIfNotEmpty(w io.Writer, format string, v interface{}) {
	if v != nil && v != "" {
		fmt.Fprintf(w, format, v)
	}
}
