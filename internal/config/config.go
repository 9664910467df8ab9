package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir           string `yaml:"data_dir"`
	DBFile            string `yaml:"db_file"`
	SnapshotDir       string `yaml:"snapshot_dir"`
	ConversationsFile string `yaml:"conversations_file"`
	LearningFile      string `yaml:"learning_file"`
	LogLevel          string `yaml:"log_level"`
	// Snapshot and recall tuning
	SnapshotCapacity   int     `yaml:"snapshot_capacity"`
	RecallWindow       int     `yaml:"recall_window"`
	RecallThreshold    float64 `yaml:"recall_threshold"`
	DefaultRecallLimit int     `yaml:"default_recall_limit"`
	TokenCacheSize     int     `yaml:"token_cache_size"`
	// Preferences
	DefaultUserID string `yaml:"default_user_id"`
	// Telemetry; metrics are exported only when an endpoint is set
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:            "memory",
		DBFile:             "nova_memory.db",
		ConversationsFile:  "conversations.json",
		LearningFile:       "learning_data.json",
		LogLevel:           "info",
		SnapshotCapacity:   1000,
		RecallWindow:       100,
		RecallThreshold:    0.3,
		DefaultRecallLimit: 5,
		TokenCacheSize:     4096,
		DefaultUserID:      "default",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// RECALL_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("RECALL_CONFIG"))
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	cfg.DataDir = envStr("RECALL_DATA_DIR", cfg.DataDir)
	cfg.DBFile = envStr("RECALL_DB_FILE", cfg.DBFile)
	cfg.SnapshotDir = envStr("RECALL_SNAPSHOT_DIR", cfg.SnapshotDir)
	cfg.ConversationsFile = envStr("RECALL_CONVERSATIONS_FILE", cfg.ConversationsFile)
	cfg.LearningFile = envStr("RECALL_LEARNING_FILE", cfg.LearningFile)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.SnapshotCapacity = envInt("RECALL_SNAPSHOT_CAPACITY", cfg.SnapshotCapacity)
	cfg.RecallWindow = envInt("RECALL_WINDOW", cfg.RecallWindow)
	cfg.RecallThreshold = envFloat("RECALL_THRESHOLD", cfg.RecallThreshold)
	cfg.DefaultRecallLimit = envInt("RECALL_DEFAULT_LIMIT", cfg.DefaultRecallLimit)
	cfg.TokenCacheSize = envInt("RECALL_TOKEN_CACHE_SIZE", cfg.TokenCacheSize)
	cfg.DefaultUserID = envStr("RECALL_DEFAULT_USER", cfg.DefaultUserID)
	cfg.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("RECALL_DATA_DIR must not be empty")
	}
	if c.DBFile == "" {
		return fmt.Errorf("RECALL_DB_FILE must not be empty")
	}
	if c.SnapshotCapacity < 1 {
		return fmt.Errorf("RECALL_SNAPSHOT_CAPACITY must be positive, got %d", c.SnapshotCapacity)
	}
	if c.RecallWindow < 1 || c.RecallWindow > c.SnapshotCapacity {
		return fmt.Errorf("RECALL_WINDOW must be between 1 and RECALL_SNAPSHOT_CAPACITY (%d), got %d", c.SnapshotCapacity, c.RecallWindow)
	}
	if c.RecallThreshold <= 0 || c.RecallThreshold >= 1 {
		return fmt.Errorf("RECALL_THRESHOLD must be in (0, 1), got %f", c.RecallThreshold)
	}
	if c.DefaultRecallLimit < 1 {
		return fmt.Errorf("RECALL_DEFAULT_LIMIT must be positive, got %d", c.DefaultRecallLimit)
	}
	if c.TokenCacheSize < 0 {
		return fmt.Errorf("RECALL_TOKEN_CACHE_SIZE must not be negative, got %d", c.TokenCacheSize)
	}
	if c.DefaultUserID == "" {
		return fmt.Errorf("RECALL_DEFAULT_USER must not be empty")
	}
	return nil
}

// DBPath is the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}

// SnapshotPath is the directory holding the snapshot files. It defaults to
// the data directory.
func (c *Config) SnapshotPath() string {
	if c.SnapshotDir != "" {
		return c.SnapshotDir
	}
	return c.DataDir
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
