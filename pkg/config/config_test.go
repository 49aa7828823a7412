package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultIsValid(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/bin/bash", cfg.Shell)
	assert.Equal(t, HandlerAuto, cfg.OtherSessionHandler)
}

func TestValidateRejectsBadHandler(t *testing.T) {
	cfg := NewDefault()
	cfg.OtherSessionHandler = "explode"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidOtherSessionHandler)
}

func TestValidateRejectsNonPositiveRefreshRate(t *testing.T) {
	cfg := NewDefault()
	cfg.RefreshRate = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidRefreshRate)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("CMDQ_SHELL", "/bin/sh")
	t.Setenv("CMDQ_REFRESH_RATE", "250ms")
	t.Setenv("CMDQ_WITH_LOCKS", "true")
	t.Setenv("CMDQ_OTHER_SESSION_HANDLER", "kill")

	cfg := NewDefault()
	cfg.LoadEnv()

	assert.Equal(t, "/bin/sh", cfg.Shell)
	assert.Equal(t, 250*time.Millisecond, cfg.RefreshRate)
	assert.True(t, cfg.WithLocksDefault)
	assert.Equal(t, HandlerKill, cfg.OtherSessionHandler)
}

func TestLoadTOMLFileMissingIsNotAnError(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadTOMLFile(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
}

func TestLoadTOMLFileAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmd-queue.toml")
	contents := `
shell = "/usr/bin/zsh"
refresh_rate = "1s"
with_locks_default = true
other_session_handler = "ignore"

[environ]
FOO = "bar"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg := NewDefault()
	require.NoError(t, cfg.LoadTOMLFile(path))

	assert.Equal(t, "/usr/bin/zsh", cfg.Shell)
	assert.Equal(t, time.Second, cfg.RefreshRate)
	assert.True(t, cfg.WithLocksDefault)
	assert.Equal(t, HandlerIgnore, cfg.OtherSessionHandler)
	assert.Equal(t, "bar", cfg.Environ["FOO"])
}
