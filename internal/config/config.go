// Package config loads and validates the seaccessd service configuration:
// which Terminal drivers to bind, which ARF modes the loader walks, and the
// runtime flags that control fail-open/fail-closed behavior and logging.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level seaccessd configuration document.
type Config struct {
	Readers ReadersConfig `yaml:"readers"`
	ACE     ACEConfig     `yaml:"ace"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

// ReadersConfig lists which Terminal driver kinds the Reader Registry should
// attempt to bind; the order of the list has no effect.
type ReadersConfig struct {
	Drivers []string `yaml:"drivers"`
}

// ACEConfig controls the Access Control Enforcer's cache-loading and
// fail-open/fail-closed behavior.
type ACEConfig struct {
	// FailClosed is the ace_fail_closed flag: an uninitialized Access Rule
	// Cache denies every open when true, allows every open when false
	// (debug only). Defaults to true.
	FailClosed *bool `yaml:"ace_fail_closed"`

	// ArfModes lists which access-rule sources the Loader may use:
	// "sim_alliance" (logical-channel SELECT/READ to the PKCS#15 ADF) and/or
	// "sim_io" (legacy SIM-IO file reads).
	ArfModes []string `yaml:"arf_modes"`
}

// RuntimeConfig holds the daemon's transport and logging settings.
type RuntimeConfig struct {
	SocketPath string `yaml:"socket_path"`
	Debug      bool   `yaml:"debug"`
	LogFormat  string `yaml:"log_format"`
}

var validArfModes = map[string]bool{"sim_alliance": true, "sim_io": true}

// Load reads, decodes, resolves relative paths in, and validates the config
// at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.ACE.ArfModes) == 0 {
		c.ACE.ArfModes = []string{"sim_alliance"}
	}
	if c.ACE.FailClosed == nil {
		failClosed := true
		c.ACE.FailClosed = &failClosed
	}
	if strings.TrimSpace(c.Runtime.LogFormat) == "" {
		c.Runtime.LogFormat = "text"
	}
}

// Validate checks that the decoded Config is complete and internally
// consistent.
func (c *Config) Validate() error {
	if len(c.Readers.Drivers) == 0 {
		return fmt.Errorf("config.readers.drivers is required and must list at least one driver")
	}
	for _, d := range c.Readers.Drivers {
		switch d {
		case "pcsc", "sim", "ese", "sd":
		default:
			return fmt.Errorf("config.readers.drivers: unknown driver %q", d)
		}
	}

	for _, m := range c.ACE.ArfModes {
		if !validArfModes[m] {
			return fmt.Errorf("config.ace.arf_modes: unknown mode %q (want sim_alliance or sim_io)", m)
		}
	}

	if strings.TrimSpace(c.Runtime.SocketPath) == "" {
		return fmt.Errorf("config.runtime.socket_path is required")
	}
	switch c.Runtime.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config.runtime.log_format must be \"text\" or \"json\", got %q", c.Runtime.LogFormat)
	}

	return nil
}

// resolvePaths rewrites relative filesystem paths against the directory
// containing the config file, the same convention the rest of the toolset
// uses for key files.
func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Runtime.SocketPath = resolvePath(configDir, c.Runtime.SocketPath)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}
