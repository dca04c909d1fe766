// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BKSalman/buddaraysh/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	rootCmd = &cobra.Command{
		Use:   "buddaraysh",
		Short: "buddaraysh - a small Wayland compositor",
		Long: `buddaraysh is a Wayland compositor with floating and tiling layouts and workspaces.
It runs nested inside another Wayland session or directly on the hardware,
and legacy X11 applications get served through Xwayland.`,
		SilenceUsage: true,
		RunE:         runCompositor,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the compositor (the default)",
		Args:  cobra.NoArgs,
		RunE:  runCompositor,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	configDumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return conf.Dump(cmd.OutOrStdout())
		},
	}
)

// Flag name to config key. Only flags that exist on the running command get bound
var flagKeys = map[string]string{
	"log-level": "log_level",
	"backend":   "backend",
	"socket":    "socket_name",
	"start":     "start_type",
	"command":   "start_command",
	"layout":    "layout",
	"xwayland":  "xwayland",
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the config file. Defaults to $XDG_CONFIG_HOME/buddaraysh/config.toml")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringP("socket", "s", "", "Wayland socket name. The compositor picks a free one when empty")

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().StringP("backend", "b", "windowed", "Backend: windowed, direct, nested-legacy")
		c.Flags().String("start", "repl", "What to start alongside: repl, command, none")
		c.Flags().String("command", "", "Command to run when --start is command")
		c.Flags().String("layout", config.LayoutTiling, "Window layout: floating, tiling")
		c.Flags().Bool("xwayland", true, "Serve legacy X11 applications")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(toolCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fatal("running buddaraysh", err)
	}
}

// loadConfig reads the config file and lets every changed flag of cmd override it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	conf, err := config.Load(path, func(v *viper.Viper) error {
		for name, key := range flagKeys {
			flag := cmd.Flag(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(conf.LogrusLevel())
	return conf, nil
}

func runCompositor(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	return wlMain(cmd.Context(), conf)
}
