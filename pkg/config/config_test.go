package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 300*time.Millisecond, cfg.Search.DebounceDelay)
	assert.Equal(t, 10, cfg.Search.DetailMaxDepth)
	assert.Equal(t, "remote", cfg.Search.DefaultMode)
	assert.Equal(t, "http://localhost:3001", cfg.Backend.BaseURL())
	assert.Equal(t, "http://localhost:3001/uploads", cfg.Backend.UploadsURL())
}

func TestLoadAPIHostAndPortFromEnv(t *testing.T) {
	t.Setenv("CASFOS_API_HOST", "records.casfos.internal")
	t.Setenv("CASFOS_API_PORT", "8443")
	t.Setenv("CASFOS_API_SCHEME", "https")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://records.casfos.internal:8443", cfg.Backend.BaseURL())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
backend:
  host: backend
  port: 0
  uploadsPath: files/
search:
  debounceDelay: 150ms
  defaultMode: local
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, cfg.Search.DebounceDelay)
	assert.Equal(t, "local", cfg.Search.DefaultMode)
	assert.Equal(t, "http://backend", cfg.Backend.BaseURL())
	assert.Equal(t, "http://backend/files", cfg.Backend.UploadsURL())
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("CASFOS_SEARCH_MODE", "hybrid")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaultMode")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	t.Setenv("CASFOS_API_PORT", "three-thousand")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CASFOS_API_PORT")
}

func TestLoadDebounceAndBrokersFromEnv(t *testing.T) {
	t.Setenv("CASFOS_SEARCH_DEBOUNCE", "150ms")
	t.Setenv("CASFOS_KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, cfg.Search.DebounceDelay)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}
