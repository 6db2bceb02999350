package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. User overrides live in configDir/kahlohost.yaml; a
// missing file is not an error — the built-in defaults alone are a
// valid configuration.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration loaded",
		"data_dir", cfg.DataDir,
		"artifact_budget_bytes", cfg.Artifact.BudgetBytes,
		"facade_http_addr", cfg.Facade.HTTPAddr)

	return cfg, nil
}

// load reads configDir/kahlohost.yaml, expands environment variables,
// and merges it onto the built-in defaults.
func load(configDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, "kahlohost.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, NewLoadError(path, err)
	}

	// Note: ExpandEnv cannot fail; unset variables expand to "" and any
	// resulting YAML problem is reported by the parser below.
	data = ExpandEnv(data)

	var user Config
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := mergeUserConfig(cfg, &user); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("failed to merge user configuration: %w", err))
	}
	cfg.configDir = configDir

	return cfg, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}
