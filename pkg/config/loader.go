package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a file, auto-detecting the format
// by extension (.yaml/.yml, .json, .toml), then layers environment
// variable overrides for the operational knobs (Engine, API) that carry
// envconfig tags, applies defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var cfg Config
	switch ext {
	case ".yaml", ".yml":
		if err := unmarshalFile(path, yaml.Unmarshal, &cfg); err != nil {
			return nil, err
		}
	case ".json":
		if err := unmarshalFile(path, json.Unmarshal, &cfg); err != nil {
			return nil, err
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}

	if err := envconfig.Process("", &cfg.Engine); err != nil {
		return nil, fmt.Errorf("failed to apply engine env overrides: %w", err)
	}
	if err := envconfig.Process("", &cfg.API); err != nil {
		return nil, fmt.Errorf("failed to apply api env overrides: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func unmarshalFile(path string, unmarshal func([]byte, interface{}) error, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}
