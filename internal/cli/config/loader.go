package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/tidekv/internal/infra/confloader"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tidekv", "cli.yaml")
}

// Load builds the configuration from defaults, the YAML file at path, TIDEKV_*
// environment variables and overrides, in increasing priority. An empty path
// reads DefaultConfigPath if it exists; an explicit path must exist.
func Load(path string, overrides map[string]any) (*CLIConfig, error) {
	fileOpt := confloader.WithConfigFile(path)
	if path == "" {
		fileOpt = confloader.WithOptionalConfigFile(DefaultConfigPath())
	}

	l := confloader.NewLoader(
		confloader.WithDefaults(defaultsMap()),
		fileOpt,
		confloader.WithOverrides(overrides),
	)

	cfg := &CLIConfig{}
	if err := l.Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, readable only by the owner since it may hold the
// seal key.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
