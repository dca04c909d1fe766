package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/BKSalman/buddaraysh/backend"
	"github.com/pelletier/go-toml"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	conf := Default()
	require.NoError(t, conf.Validate())
	assert.Equal(t, START_REPL, conf.StartType())
	assert.Equal(t, "kitty", conf.Terminal)
	assert.Equal(t, "workspace 3", conf.Keybindings["3"])
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
start_type = "command"
start_command = "foot"
backend = "direct"
workspaces = 4
layout = "floating"

[keybindings]
Q = "spawn foot"
`)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	conf, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, conf.Validate())

	assert.Equal(t, START_SINGLE_COMMAND, conf.StartType())
	assert.Equal(t, "foot", conf.StartCommand)
	assert.Equal(t, "direct", conf.Backend)
	assert.Equal(t, 4, conf.Workspaces)
	assert.Equal(t, LayoutFloating, conf.Layout)
	assert.Equal(t, 24, conf.CursorSize)
	assert.True(t, conf.DRMCompositor)
	assert.Equal(t, "spawn foot", conf.Keybindings["q"])
	assert.Equal(t, "quit", conf.Keybindings["escape"])
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `backend = "direct"`)
	t.Setenv("BUD_BACKEND", "nested-legacy")
	conf, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "nested-legacy", conf.Backend)
}

func TestBindRunsBeforeUnmarshal(t *testing.T) {
	path := writeConfig(t, `log_level = "debug"`)
	conf, err := Load(path, func(v *viper.Viper) error {
		v.Set("log_level", "trace")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "trace", conf.LogLevel)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	conf := Default()
	conf.Backend = "fbdev"
	conf.Vulkan = true
	conf.Workspaces = 0
	conf.LogLevel = "loud"
	conf.Start = "command"

	err := conf.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	msg := err.Error()
	assert.Contains(t, msg, `backend "fbdev"`)
	assert.ErrorIs(t, err, backend.ErrBackendInitFailed, "backend selection failures keep their exit status")
	assert.Contains(t, msg, "vulkan")
	assert.Contains(t, msg, "workspaces 0")
	assert.Contains(t, msg, "log_level")
	assert.Contains(t, msg, "start_command")
}

func TestDumpRoundTripsThroughLoad(t *testing.T) {
	conf := Default()
	conf.Terminal = "alacritty"
	var buf bytes.Buffer
	require.NoError(t, conf.Dump(&buf))

	tree, err := toml.LoadBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "alacritty", tree.Get("terminal"))

	loaded, err := Load(writeConfig(t, buf.String()), nil)
	require.NoError(t, err)
	assert.Equal(t, conf, *loaded)
}
