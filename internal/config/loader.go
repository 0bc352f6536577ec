package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func loadYAML(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

// Load reads a duel config file, checks it against the embedded schema,
// fills defaults and validates cross-field rules. An empty path yields
// Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	var doc any
	if err := loadYAML(path, &doc); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var cfg Config
	if err := loadYAML(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}
