package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.DataDir)
	assert.Equal(t, 100, cfg.RecallWindow)
	assert.Equal(t, 0.3, cfg.RecallThreshold)
	assert.Equal(t, 5, cfg.DefaultRecallLimit)
	assert.Equal(t, filepath.Join("memory", "nova_memory.db"), cfg.DBPath())
	assert.Equal(t, "memory", cfg.SnapshotPath())
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/recall
recall_window: 50
snapshot_dir: /var/cache/recall
default_user_id: jackson
otlp_endpoint: http://collector:4318
`), 0o644))

	t.Setenv("RECALL_WINDOW", "25")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/recall", cfg.DataDir)
	assert.Equal(t, 25, cfg.RecallWindow)
	assert.Equal(t, "/var/cache/recall", cfg.SnapshotPath())
	assert.Equal(t, "jackson", cfg.DefaultUserID)
	assert.Equal(t, "http://localhost:4318", cfg.OTLPEndpoint)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.SnapshotCapacity)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }},
		{name: "window above capacity", mutate: func(c *Config) { c.RecallWindow = c.SnapshotCapacity + 1 }},
		{name: "zero window", mutate: func(c *Config) { c.RecallWindow = 0 }},
		{name: "threshold of one", mutate: func(c *Config) { c.RecallThreshold = 1 }},
		{name: "negative threshold", mutate: func(c *Config) { c.RecallThreshold = -0.1 }},
		{name: "zero threshold", mutate: func(c *Config) { c.RecallThreshold = 0 }},
		{name: "zero limit", mutate: func(c *Config) { c.DefaultRecallLimit = 0 }},
		{name: "negative token cache", mutate: func(c *Config) { c.TokenCacheSize = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recall_window: [oops"), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}
