// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/logging"
)

const serviceName = "tokengate"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Tokengate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokengate",
		Short: "Tokengate - credential issuance and validation",
		Long: `Tokengate authenticates users by email and password, issues signed
session tokens in an Authentication cookie and validates them on every
protected request.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/tokengate/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUserCmd())

	return cmd
}

// loadConfig layers file, environment and the command's flags.
func loadConfig(cmd *cobra.Command, storeOnly bool) (*config.Config, error) {
	return config.Load(config.Options{
		File:      configFile,
		Flags:     cmd.Flags(),
		StoreOnly: storeOnly,
	})
}

// newLogger builds the process logger from cfg and installs it as the
// slog default.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logging.SetDefault(serviceName, version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level), w)
}
