package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 50, cfg.Pipeline.BatchSize)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 1000, cfg.Pipeline.InsertChunkSize)
	assert.Equal(t, 80, cfg.Distribution.Buckets)
	assert.Equal(t, 180, cfg.Distribution.BucketSize)
	assert.Equal(t, 7, cfg.Lifecycle.UnfollowAfterDays)
	assert.Equal(t, 8, cfg.Lifecycle.PurgeAfterDays)
	assert.Equal(t, 4, cfg.Worker.Count)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.toml")
	content := `
[pipeline]
batch_size = 25
max_attempts = 5

[distribution]
buckets = 4
bucket_size = 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 4, cfg.Distribution.Buckets)
	assert.Equal(t, 10, cfg.Distribution.BucketSize)

	// Untouched keys keep their defaults.
	assert.Equal(t, 1000, cfg.Pipeline.InsertChunkSize)
	assert.Equal(t, "roster.db", cfg.Database.Path)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
