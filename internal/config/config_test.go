package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "inbox.db", cfg.Store.Path)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "https://api.perplexity.ai", cfg.Perplexity.BaseURL)
	assert.Equal(t, "sonar", cfg.Perplexity.Model)
	assert.Equal(t, "Messages", cfg.Airtable.MessagesTable)
	assert.Equal(t, "Message Requests", cfg.Airtable.RequestsTable)
	assert.Equal(t, time.Second, cfg.Pipeline.AnalysisDelay)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.DiscoveryDelay)
	assert.Equal(t, 3, cfg.Pipeline.SearchAttempts)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.SearchAttemptDelay)
	assert.Equal(t, 30*time.Minute, cfg.Daemon.Interval)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/inbox
pipeline:
  analysis_delay: 250ms
  search_attempts: 5
daemon:
  interval: 1h
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/inbox", cfg.Store.DatabaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.AnalysisDelay)
	assert.Equal(t, 5, cfg.Pipeline.SearchAttempts)
	assert.Equal(t, time.Hour, cfg.Daemon.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	// File overrides leave defaults intact elsewhere.
	assert.Equal(t, "sonar", cfg.Perplexity.Model)
}

func TestLoadEnvOverride(t *testing.T) {
	chTempDir(t)
	t.Setenv("INBOX_STORE_DRIVER", "postgres")
	t.Setenv("INBOX_AIRTABLE_KEY", "pat-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "pat-secret", cfg.Airtable.Key)
}

func TestAirtableTable(t *testing.T) {
	cfg := AirtableConfig{MessagesTable: "Messages", RequestsTable: "Message Requests"}
	assert.Equal(t, "Messages", cfg.Table("messages"))
	assert.Equal(t, "Message Requests", cfg.Table("message_requests"))
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
