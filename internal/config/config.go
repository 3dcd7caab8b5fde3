// Package config loads and validates the server's TOML configuration and
// holds the hot-swappable bearer-token access pool built from it.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults applied before the config file is decoded.
const (
	DefaultDatabase = "files.db"
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 24146
)

// Config is the parsed configuration file.
type Config struct {
	WorkingDirectory string      `toml:"working_directory"`
	Database         string      `toml:"database"`
	Server           Server      `toml:"server"`
	AuthEntries      []AuthEntry `toml:"auth_entry"`
}

// Server is the optional [server] block.
type Server struct {
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
}

// AuthEntry maps one bearer token to the path prefixes it may access.
type AuthEntry struct {
	Token string   `toml:"token"`
	Path  []string `toml:"path"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Database: DefaultDatabase,
		Server: Server{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

// Validate checks the invariants a loaded config must satisfy.
func Validate(cfg *Config) error {
	if cfg.WorkingDirectory == "" {
		return fmt.Errorf("config: working_directory is required")
	}

	if cfg.Database == "" {
		return fmt.Errorf("config: database must not be empty")
	}

	if cfg.Server.Port == 0 {
		return fmt.Errorf("config: server port must not be 0")
	}

	for i, entry := range cfg.AuthEntries {
		if entry.Token == "" {
			return fmt.Errorf("config: auth_entry %d has an empty token", i)
		}

		if len(entry.Path) == 0 {
			return fmt.Errorf("config: auth_entry %d has no path prefixes", i)
		}
	}

	return nil
}

// ListenAddr builds the host:port bind address, letting CLI overrides win
// over the config file. Empty host / zero port mean "not overridden".
func (c *Config) ListenAddr(hostOverride string, portOverride uint16) string {
	host := c.Server.Host
	if hostOverride != "" {
		host = hostOverride
	}

	port := c.Server.Port
	if portOverride != 0 {
		port = portOverride
	}

	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// BuildPool flattens the auth entries into the token→prefix mapping the
// access pool serves. A duplicate token keeps the last entry, matching
// the file's top-to-bottom reading order.
func (c *Config) BuildPool() map[string][]string {
	pool := make(map[string][]string, len(c.AuthEntries))

	for _, entry := range c.AuthEntries {
		pool[entry.Token] = entry.Path
	}

	return pool
}

// expandTilde expands a leading "~" to the user's home directory.
// If os.UserHomeDir fails, the path is returned unexpanded.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
