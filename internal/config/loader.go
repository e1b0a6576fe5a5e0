package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads config.yaml from configDir, expands env references,
// merges over built-in defaults, validates, and returns a ready-to-use
// Config.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration loaded", "projects", len(cfg.Projects), "reactions", len(cfg.Reactions))
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s not found", ErrConfigNotFound, path)
		}
		return nil, err
	}
	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	builtin := builtinDefaults()
	if err := mergo.Merge(&cfg.Defaults, builtin.Defaults); err != nil {
		return nil, fmt.Errorf("merge built-in defaults: %w", err)
	}

	cfg.configDir = configDir
	return &cfg, nil
}

// builtinDefaults returns the orchestrator's built-in fallback values,
// used to fill in anything the user's config.yaml leaves unset. Mirrors
// the reference implementation's GetBuiltinConfig()-then-mergo.Merge
// pattern, scaled down to this schema's single Defaults block.
func builtinDefaults() *Config {
	return &Config{
		Defaults: Defaults{
			Runtime:   "tmux",
			Agent:     "claude",
			Workspace: "worktree",
		},
	}
}
