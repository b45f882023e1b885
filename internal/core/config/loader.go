package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 30 * time.Second
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 5 * time.Minute
	}
	if cfg.Sync.IdleThreshold == 0 {
		cfg.Sync.IdleThreshold = 10 * time.Minute
	}
	if cfg.Sync.CatchUpThreshold == 0 {
		cfg.Sync.CatchUpThreshold = 5 * time.Minute
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 60 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 5
	}
	if cfg.Batch.Timeout == 0 {
		cfg.Batch.Timeout = 2 * time.Second
	}
	if cfg.Dedup.Window == 0 {
		cfg.Dedup.Window = 5 * time.Second
	}
}
