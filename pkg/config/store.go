package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when a config file doesn't exist
var ErrConfigNotFound = errors.New("config not found")

const (
	// DefaultConfigDir is the default directory for forgectl configuration
	DefaultConfigDir = ".forgectl"

	// UserConfigFile is the filename for the user configuration
	UserConfigFile = "config.yaml"
)

// Store handles reading and writing the user configuration file
type Store struct {
	configDir string
}

// NewStore creates a store rooted in the user's home directory
func NewStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	return &Store{configDir: filepath.Join(home, DefaultConfigDir)}, nil
}

// NewStoreWithPath creates a store with a custom config directory
func NewStoreWithPath(configDir string) *Store {
	return &Store{configDir: configDir}
}

// ConfigPath returns the path of the user config file
func (s *Store) ConfigPath() string {
	return filepath.Join(s.configDir, UserConfigFile)
}

// Load reads the user config merged over the defaults.
// A missing file yields the defaults.
func (s *Store) Load() (*UserConfig, error) {
	cfg := DefaultUserConfig()

	// #nosec G304 -- path is constructed from config directory
	data, err := os.ReadFile(s.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read user config: %w", err)
	}

	var fileCfg UserConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config %s: %w", s.ConfigPath(), err)
	}

	cfg.Merge(&fileCfg)
	return cfg, nil
}

// Save writes the user config to disk
func (s *Store) Save(cfg *UserConfig) error {
	if err := os.MkdirAll(s.configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	if err := os.WriteFile(s.ConfigPath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}

	return nil
}
