package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// State backends for the client-side key-value slot.
const (
	stateFile   = "file"
	stateSQLite = "sqlite"
)

// cliConfig is the workflowctl configuration file.
type cliConfig struct {
	ServerURL         string `toml:"server_url"`
	Timeout           string `toml:"timeout"`
	StateBackend      string `toml:"state_backend"`
	StatePath         string `toml:"state_path"`
	CloudRequiresAuth bool   `toml:"cloud_requires_auth"`
	LogLevel          string `toml:"log_level"`

	timeout time.Duration
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		ServerURL:         "http://localhost:8188",
		Timeout:           "30s",
		StateBackend:      stateFile,
		CloudRequiresAuth: true,
		LogLevel:          "info",
	}
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "workflowshelf"), nil
}

func defaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// expandPath resolves a leading "~" to the home directory.
func expandPath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// loadCLIConfig reads path, or the default location when path is empty. A
// missing file yields the defaults.
func loadCLIConfig(path string) (*cliConfig, error) {
	cfg := defaultCLIConfig()

	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	} else {
		p, err := expandPath(path)
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *cliConfig) normalize() error {
	c.ServerURL = strings.TrimSuffix(strings.TrimSpace(c.ServerURL), "/")
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}

	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid timeout %q", c.Timeout)
	}
	c.timeout = d

	c.StateBackend = strings.ToLower(strings.TrimSpace(c.StateBackend))
	if c.StateBackend == "" {
		c.StateBackend = stateFile
	}
	if c.StateBackend != stateFile && c.StateBackend != stateSQLite {
		return fmt.Errorf("unknown state_backend %q (want %s or %s)", c.StateBackend, stateFile, stateSQLite)
	}

	if c.StatePath == "" {
		dir, err := configDir()
		if err != nil {
			return err
		}
		name := "state.json"
		if c.StateBackend == stateSQLite {
			name = "state.db"
		}
		c.StatePath = filepath.Join(dir, name)
	}
	p, err := expandPath(c.StatePath)
	if err != nil {
		return err
	}
	c.StatePath = p
	return nil
}
