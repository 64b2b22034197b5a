package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Crawler.Interval)
	assert.Equal(t, 100, cfg.Crawler.BatchSize)
	assert.Equal(t, 50, cfg.Crawler.RetryBatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Sweeper.ClaimTimeout)
	assert.False(t, cfg.Pruner.Enabled)
	assert.Equal(t, 168*time.Hour, cfg.Pruner.Retention)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Empty(t, cfg.Topics)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outboxd.yaml")
	yaml := `
log:
  level: debug
crawler:
  batch_size: 10
topics:
  - name: ConventionSubmitted
  - name: ConventionRejected
    quarantine: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Crawler.BatchSize)
	// Untouched keys keep their defaults.
	assert.Equal(t, 50, cfg.Crawler.RetryBatchSize)
	require.Len(t, cfg.Topics, 2)
	assert.Equal(t, "ConventionSubmitted", cfg.Topics[0].Name)
	assert.False(t, cfg.Topics[0].Quarantine)
	assert.True(t, cfg.Topics[1].Quarantine)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist.yaml")
}

func TestLoad_MalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outboxd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o600))

	_, err := Load(path)

	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OUTBOXD_LOG_LEVEL", "warn")
	t.Setenv("OUTBOXD_MYSQL_DSN", "app:secret@tcp(db:3306)/outbox?parseTime=true")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "app:secret@tcp(db:3306)/outbox?parseTime=true", cfg.MySQL.DSN)
}
