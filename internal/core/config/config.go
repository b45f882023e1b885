package config

import (
	"time"

	redisclient "github.com/haunv/profilesync/internal/infra/redis"
	"github.com/haunv/profilesync/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Source   SourceConfig       `yaml:"source"`
	Sync     SyncConfig         `yaml:"sync"`
	Retry    RetryConfig        `yaml:"retry"`
	Cache    CacheConfig        `yaml:"cache"`
	Batch    BatchConfig        `yaml:"batch"`
	Dedup    DedupConfig        `yaml:"dedup"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SourceConfig holds settings for the remote ownership source.
type SourceConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig holds orchestrator timing settings.
type SyncConfig struct {
	AutoSyncEnabled  bool          `yaml:"auto_sync_enabled"`
	Interval         time.Duration `yaml:"interval"`
	IdleThreshold    time.Duration `yaml:"idle_threshold"`
	CatchUpThreshold time.Duration `yaml:"catch_up_threshold"`
	HistoryLimit     int           `yaml:"history_limit"`
}

// RetryConfig holds recovery backoff settings.
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// CacheConfig holds local cache bounds.
type CacheConfig struct {
	MaxSizeBytes         int           `yaml:"max_size_bytes"`
	MaxEntries           int           `yaml:"max_entries"`
	Policy               string        `yaml:"policy"` // lru, lfu, ttl
	CompressionThreshold int           `yaml:"compression_threshold"`
	DefaultTTL           time.Duration `yaml:"default_ttl"`
}

// BatchConfig holds operation batching settings.
type BatchConfig struct {
	Size    int           `yaml:"size"`
	Timeout time.Duration `yaml:"timeout"`
}

// DedupConfig holds request deduplication settings.
type DedupConfig struct {
	Window time.Duration `yaml:"window"`
}
