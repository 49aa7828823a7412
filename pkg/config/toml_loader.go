package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors Config's fields in a form convenient for TOML
// decoding: durations are strings, handler is a string.
type fileConfig struct {
	Shell               string            `toml:"shell"`
	SessionRootDpath    string            `toml:"session_root"`
	RefreshRate         string            `toml:"refresh_rate"`
	WithLocksDefault    *bool             `toml:"with_locks_default"`
	OtherSessionHandler string            `toml:"other_session_handler"`
	Environ             map[string]string `toml:"environ"`
}

// LoadTOMLFile layers the given cmd-queue.toml file on top of the receiver.
// A missing file is not an error — callers typically call this after
// NewDefault() with a path that may or may not exist.
func (c *Config) LoadTOMLFile(path string) error {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	_ = meta

	if fc.Shell != "" {
		c.Shell = fc.Shell
	}
	if fc.SessionRootDpath != "" {
		c.SessionRootDpath = fc.SessionRootDpath
	}
	if fc.RefreshRate != "" {
		if d, err := time.ParseDuration(fc.RefreshRate); err == nil {
			c.RefreshRate = d
		}
	}
	if fc.WithLocksDefault != nil {
		c.WithLocksDefault = *fc.WithLocksDefault
	}
	if fc.OtherSessionHandler != "" {
		c.OtherSessionHandler = OtherSessionHandler(fc.OtherSessionHandler)
	}
	for k, v := range fc.Environ {
		if c.Environ == nil {
			c.Environ = map[string]string{}
		}
		c.Environ[k] = v
	}
	return nil
}
