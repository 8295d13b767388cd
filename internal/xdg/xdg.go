// Package xdg resolves XDG Base Directory paths for Tokengate.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "tokengate"

// ConfigDir returns the tokengate config directory.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile is the config file read when --config is not given.
func DefaultConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
