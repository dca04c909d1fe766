// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/BKSalman/buddaraysh/backend"
	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type StartType int

const (
	// Tells buddaraysh to start a repl in parallel for interacting with it
	START_REPL = StartType(iota)
	// Tells buddaraysh to execute a specific command on startup
	START_SINGLE_COMMAND
	// Tells buddaraysh to start without any specific targets
	// Note: Good luck interacting with it :3
	START_NONE
)

var startTypeNames = map[string]StartType{
	"repl":    START_REPL,
	"command": START_SINGLE_COMMAND,
	"none":    START_NONE,
}

const (
	LayoutFloating = "floating"
	LayoutTiling   = "tiling"
)

var (
	ErrInvalid     = errors.New("invalid configuration")
	layouts        = []string{LayoutFloating, LayoutTiling}
	EnvPrefix      = "BUD"
	configFileName = "buddaraysh/config.toml"
)

type Config struct {
	// One of repl, command, none
	Start string `mapstructure:"start_type" toml:"start_type"`
	// What command to execute on start. Only matters if start_type is command
	StartCommand string `mapstructure:"start_command" toml:"start_command,omitempty"`

	// One of windowed, direct, nested-legacy
	Backend     string `mapstructure:"backend" toml:"backend"`
	CursorTheme string `mapstructure:"cursor_theme" toml:"cursor_theme"`
	CursorSize  int    `mapstructure:"cursor_size" toml:"cursor_size"`
	// Override for the display device of the direct backend
	DRMDevice string `mapstructure:"drm_device" toml:"drm_device,omitempty"`
	Vulkan    bool   `mapstructure:"vulkan" toml:"vulkan"`
	// Composite the cursor into the frame instead of using a cursor plane
	DRMCompositor bool   `mapstructure:"drm_compositor" toml:"drm_compositor"`
	LogLevel      string `mapstructure:"log_level" toml:"log_level"`

	Workspaces int `mapstructure:"workspaces" toml:"workspaces"`
	// floating or tiling
	Layout string `mapstructure:"layout" toml:"layout"`
	// Size of the host window for the windowed and nested-legacy backends
	WindowWidth  int `mapstructure:"window_width" toml:"window_width"`
	WindowHeight int `mapstructure:"window_height" toml:"window_height"`
	// Wayland socket name, empty picks the first free wayland-N
	SocketName   string `mapstructure:"socket_name" toml:"socket_name,omitempty"`
	Xwayland     bool   `mapstructure:"xwayland" toml:"xwayland"`
	XwaylandPath string `mapstructure:"xwayland_path" toml:"xwayland_path"`
	Terminal     string `mapstructure:"terminal" toml:"terminal"`
	// Modifier held for every keybinding: alt, super, ctrl
	Modifier string `mapstructure:"modifier" toml:"modifier"`
	// Key name to action, e.g. q = "spawn" or 2 = "workspace 2"
	Keybindings map[string]string `mapstructure:"keybindings" toml:"keybindings"`
}

func Default() Config {
	return Config{
		Start:         "repl",
		Backend:       "windowed",
		CursorTheme:   "default",
		CursorSize:    24,
		DRMCompositor: true,
		LogLevel:      "info",
		Workspaces:    9,
		Layout:        LayoutTiling,
		WindowWidth:   1920,
		WindowHeight:  1080,
		Xwayland:      true,
		XwaylandPath:  "Xwayland",
		Terminal:      "kitty",
		Modifier:      "alt",
		Keybindings:   DefaultKeybindings(),
	}
}

// DefaultKeybindings mirrors the classic tinywl bindings plus workspaces
func DefaultKeybindings() map[string]string {
	b := map[string]string{
		"escape": "quit",
		"f1":     "focus-next",
		"q":      "spawn",
		"c":      "close",
	}
	for i := 1; i <= 9; i++ {
		b[strconv.Itoa(i)] = fmt.Sprintf("workspace %d", i)
	}
	return b
}

func (c *Config) StartType() StartType {
	return startTypeNames[c.Start]
}

// Validate fails on anything we cannot run with. Nothing has been opened yet when it runs
func (c *Config) Validate() error {
	var errs []error
	if _, ok := startTypeNames[c.Start]; !ok {
		errs = append(errs, fmt.Errorf("start_type %q is not one of repl, command, none", c.Start))
	}
	if c.StartType() == START_SINGLE_COMMAND && strings.TrimSpace(c.StartCommand) == "" {
		errs = append(errs, errors.New("start_type command needs start_command"))
	}
	if _, err := backend.ParseKind(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.CursorSize <= 0 || c.CursorSize > 256 {
		errs = append(errs, fmt.Errorf("cursor_size %d out of range 1..256", c.CursorSize))
	}
	if c.Vulkan {
		errs = append(errs, errors.New("vulkan = true: only the software renderer is available"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Workspaces < 1 || c.Workspaces > 32 {
		errs = append(errs, fmt.Errorf("workspaces %d out of range 1..32", c.Workspaces))
	}
	if !slices.Contains(layouts, c.Layout) {
		errs = append(errs, fmt.Errorf("layout %q is not one of %s", c.Layout, strings.Join(layouts, ", ")))
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d is not positive", c.WindowWidth, c.WindowHeight))
	}
	if c.Xwayland && c.XwaylandPath == "" {
		errs = append(errs, errors.New("xwayland needs xwayland_path"))
	}
	switch c.Modifier {
	case "alt", "super", "ctrl":
	default:
		errs = append(errs, fmt.Errorf("modifier %q is not one of alt, super, ctrl", c.Modifier))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// LogrusLevel is the parsed log_level. Validate already checked it
func (c *Config) LogrusLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// DefaultPath finds the config file in the XDG config directories, empty if there is none
func DefaultPath() string {
	path, err := xdg.SearchConfigFile(configFileName)
	if err != nil {
		return ""
	}
	return path
}

// Load reads the file at path (or the default location when empty), then BUD_* environment
// variables, then whatever bind registers on the viper instance, e.g. command line flags
func Load(path string, bind func(v *viper.Viper) error) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("start_type", def.Start)
	v.SetDefault("start_command", def.StartCommand)
	v.SetDefault("backend", def.Backend)
	v.SetDefault("cursor_theme", def.CursorTheme)
	v.SetDefault("cursor_size", def.CursorSize)
	v.SetDefault("drm_device", def.DRMDevice)
	v.SetDefault("vulkan", def.Vulkan)
	v.SetDefault("drm_compositor", def.DRMCompositor)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("workspaces", def.Workspaces)
	v.SetDefault("layout", def.Layout)
	v.SetDefault("window_width", def.WindowWidth)
	v.SetDefault("window_height", def.WindowHeight)
	v.SetDefault("socket_name", def.SocketName)
	v.SetDefault("xwayland", def.Xwayland)
	v.SetDefault("xwayland_path", def.XwaylandPath)
	v.SetDefault("terminal", def.Terminal)
	v.SetDefault("modifier", def.Modifier)
	v.SetDefault("keybindings", def.Keybindings)

	if bind != nil {
		if err := bind(v); err != nil {
			return nil, err
		}
	}

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		logrus.WithField("path", path).Debugln("Loaded config file")
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	// Bindings from the file replace single defaults, not the whole table
	bindings := DefaultKeybindings()
	for key, action := range conf.Keybindings {
		bindings[strings.ToLower(key)] = action
	}
	conf.Keybindings = bindings
	return conf, nil
}

// Dump writes the effective configuration as TOML
func (c *Config) Dump(w io.Writer) error {
	data, err := toml.Marshal(*c)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
