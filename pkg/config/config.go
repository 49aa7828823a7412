// Package config holds layered configuration for cmd-queue: programmatic
// defaults, an optional cmd-queue.toml file, and environment variable
// overrides, in that order of increasing precedence.
package config

import (
	"os"
	"strconv"
	"time"
)

// OtherSessionHandler controls what happens when pre-existing tmux sessions
// matching this queue's name prefix are detected (spec.md §4.4).
type OtherSessionHandler string

const (
	HandlerAsk    OtherSessionHandler = "ask"
	HandlerKill   OtherSessionHandler = "kill"
	HandlerIgnore OtherSessionHandler = "ignore"
	HandlerAuto   OtherSessionHandler = "auto"
)

// Config holds configuration shared by every backend.
type Config struct {
	// Shell is the shebang interpreter for generated scripts.
	Shell string

	// SessionRootDpath is the directory under which session directories
	// are created (spec.md §6: "<dpath>/<session-id>/").
	SessionRootDpath string

	// RefreshRate is the bookkeeper/monitor poll interval.
	RefreshRate time.Duration

	// WithLocksDefault is the default value of the serial backend's
	// with_locks flag (spec.md §5: "default is off for tmux-mode jobs and
	// on for serial-mode emits that use a shared state file").
	WithLocksDefault bool

	// OtherSessionHandler is the default tmux pre-existing-session policy.
	OtherSessionHandler OtherSessionHandler

	// Environ holds KEY=VALUE pairs loaded from the [environ] table of
	// cmd-queue.toml. No backend reads it: generated scripts carry no
	// `export` lines for these pairs.
	Environ map[string]string
}

// NewDefault returns a Config with cmd-queue's baked-in defaults.
func NewDefault() *Config {
	return &Config{
		Shell:               "/bin/bash",
		SessionRootDpath:    defaultSessionRoot(),
		RefreshRate:         400 * time.Millisecond,
		WithLocksDefault:    false,
		OtherSessionHandler: HandlerAuto,
		Environ:             map[string]string{},
	}
}

func defaultSessionRoot() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home + "/.cache/cmd_queue"
	}
	return "/tmp/cmd_queue"
}

// LoadEnv applies environment variable overrides on top of the receiver.
// Recognized variables: CMDQ_SHELL, CMDQ_SESSION_ROOT, CMDQ_REFRESH_RATE,
// CMDQ_WITH_LOCKS, CMDQ_OTHER_SESSION_HANDLER.
func (c *Config) LoadEnv() {
	if v := os.Getenv("CMDQ_SHELL"); v != "" {
		c.Shell = v
	}
	if v := os.Getenv("CMDQ_SESSION_ROOT"); v != "" {
		c.SessionRootDpath = v
	}
	if v := os.Getenv("CMDQ_REFRESH_RATE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RefreshRate = d
		}
	}
	if v := os.Getenv("CMDQ_WITH_LOCKS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.WithLocksDefault = b
		}
	}
	if v := os.Getenv("CMDQ_OTHER_SESSION_HANDLER"); v != "" {
		c.OtherSessionHandler = OtherSessionHandler(v)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Shell == "" {
		return ErrMissingShell
	}
	if c.SessionRootDpath == "" {
		return ErrMissingSessionRoot
	}
	if c.RefreshRate <= 0 {
		return ErrInvalidRefreshRate
	}
	switch c.OtherSessionHandler {
	case HandlerAsk, HandlerKill, HandlerIgnore, HandlerAuto:
	default:
		return ErrInvalidOtherSessionHandler
	}
	return nil
}
