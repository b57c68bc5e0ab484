package config

import (
	"encoding/hex"
	"fmt"
	"slices"
	"time"
)

// Codecs accepted in the codec setting.
var Codecs = []string{"json", "yaml", "string", "raw"}

// Outputs accepted in the output setting.
var Outputs = []string{"table", "json", "yaml"}

// CLIConfig is the configuration for tidekv-cli (~/.tidekv/cli.yaml).
type CLIConfig struct {
	// DB is the store file the commands operate on.
	DB string `koanf:"db" yaml:"db"`

	// Codec selects how values are stored: json, yaml, string or raw.
	Codec string `koanf:"codec" yaml:"codec"`

	// KeyFold applies Unicode case folding to keys.
	KeyFold bool `koanf:"key_fold" yaml:"key_fold"`

	// SealKey is a hex-encoded 32-byte key. When set, values are encrypted.
	SealKey string `koanf:"seal_key" yaml:"seal_key,omitempty"`

	// Output is the default output format: table, json or yaml.
	Output string `koanf:"output" yaml:"output"`

	// AutoSync is the minimum interval between reloads in watch mode.
	AutoSync time.Duration `koanf:"auto_sync" yaml:"auto_sync"`

	Log LogConfig `koanf:"log" yaml:"log"`
}

// LogConfig configures CLI logging.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DB:       "tidekv.db",
		Codec:    "json",
		Output:   "table",
		AutoSync: 200 * time.Millisecond,
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// defaultsMap flattens Default for the loader.
func defaultsMap() map[string]any {
	d := Default()
	return map[string]any{
		"db":         d.DB,
		"codec":      d.Codec,
		"key_fold":   d.KeyFold,
		"seal_key":   d.SealKey,
		"output":     d.Output,
		"auto_sync":  d.AutoSync.String(),
		"log.level":  d.Log.Level,
		"log.format": d.Log.Format,
	}
}

// Validate checks the enumerated settings and the seal key.
func (c *CLIConfig) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("db: path is required")
	}
	if !slices.Contains(Codecs, c.Codec) {
		return fmt.Errorf("codec: %q is not one of %v", c.Codec, Codecs)
	}
	if !slices.Contains(Outputs, c.Output) {
		return fmt.Errorf("output: %q is not one of %v", c.Output, Outputs)
	}
	if c.AutoSync <= 0 {
		return fmt.Errorf("auto_sync: must be positive, got %v", c.AutoSync)
	}
	if _, err := c.SealKeyBytes(); err != nil {
		return err
	}
	return nil
}

// SealKeyBytes decodes SealKey. It returns nil when no key is configured.
func (c *CLIConfig) SealKeyBytes() ([]byte, error) {
	if c.SealKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.SealKey)
	if err != nil {
		return nil, fmt.Errorf("seal_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("seal_key: need 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Redacted returns a copy safe to print.
func (c *CLIConfig) Redacted() *CLIConfig {
	out := *c
	if out.SealKey != "" {
		out.SealKey = "***REDACTED***"
	}
	return &out
}
