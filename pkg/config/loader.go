package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads configuration from configDir/config.yaml, merges it over
// the built-in defaults, expands environment variable references, and
// validates the result. It also loads configDir/.env into the process
// environment first (missing .env is not an error).
//
// Mirrors the teacher's main.go initialization order: load .env, then load
// and validate structured config.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads and parses a YAML config file at path, overlaying it on top of
// the built-in defaults. A missing file is not an error: Default() is
// returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("config file not found, using built-in defaults", "path", path)
			return cfg, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("failed to merge configuration: %w", err))
	}

	return cfg, nil
}
