// Package config loads the vault configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config filename inside the vault root.
const DefaultFile = ".driftnote.yaml"

// Config is the per-vault configuration.
type Config struct {
	// VaultID pins the vault manifest this directory syncs against.
	// Filled in on first sync when empty.
	VaultID string `yaml:"vault_id,omitempty"`

	// Relays lists relay database paths. Several vaults pointing at the
	// same path share a store.
	Relays []string `yaml:"relays"`

	// Extensions lists tracked file extensions, lowercase with dot.
	Extensions []string `yaml:"extensions"`

	// PollInterval is the share/preferences polling cadence in watch
	// mode.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Debounce is the quiet window after a file change before a sync
	// triggers.
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the configuration used when no file exists.
func Default(vaultRoot string) *Config {
	return &Config{
		Relays:       []string{filepath.Join(vaultRoot, ".driftnote.relay")},
		Extensions:   []string{".md"},
		PollInterval: 30 * time.Second,
		Debounce:     2 * time.Second,
	}
}

// Load reads the config from the vault root, applying defaults for
// missing fields. A missing file yields the defaults.
func Load(vaultRoot string) (*Config, error) {
	path := filepath.Join(vaultRoot, DefaultFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(vaultRoot), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	defaults := Default(vaultRoot)
	if len(cfg.Relays) == 0 {
		cfg.Relays = defaults.Relays
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = defaults.Extensions
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	return cfg, nil
}

// Save writes the config to the vault root.
func (c *Config) Save(vaultRoot string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	path := filepath.Join(vaultRoot, DefaultFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
