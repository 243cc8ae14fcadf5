package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scratchpad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "scratchpad.db", cfg.Store.Path)
	assert.True(t, cfg.Connectors.Breaker.Enabled)
	assert.Equal(t, uint32(5), cfg.Connectors.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Connectors.Breaker.Timeout)
	assert.Equal(t, "default", cfg.Backup.Bucket)
	assert.False(t, cfg.Edit.InjectFallbackAppend)
	assert.NoError(t, cfg.Validate())
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SCRATCHPAD_DB_PATH", "store.path"},
		{"SCRATCHPAD_BREAKER_TIMEOUT", "connectors.breaker.timeout"},
		{"SCRATCHPAD_LOG_LEVEL", "logging.level"},
		{"SCRATCHPAD_INJECT_FALLBACK_APPEND", "edit.inject_fallback_append"},
		{"SCRATCHPAD_UNKNOWN", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envTransformFunc(tt.in))
		})
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	want := defaultConfig()
	assert.Equal(t, want.Store, cfg.Store)
	assert.Equal(t, want.Connectors, cfg.Connectors)
	assert.Equal(t, want.Logging, cfg.Logging)
	assert.Equal(t, want.Backup.Bucket, cfg.Backup.Bucket)
	assert.Empty(t, cfg.Backup.Workbooks)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
store:
  path: /tmp/wb.db
connectors:
  file_dir: fixtures
  breaker:
    failure_threshold: 2
    timeout: 5s
backup:
  schedule: "*/15 * * * *"
  workbooks: [content, authors]
edit:
  inject_fallback_append: true
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/wb.db", cfg.Store.Path)
	assert.Equal(t, "fixtures", cfg.Connectors.FileDir)
	assert.Equal(t, uint32(2), cfg.Connectors.Breaker.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Connectors.Breaker.Timeout)
	assert.Equal(t, time.Minute, cfg.Connectors.Breaker.Interval, "unset keys keep defaults")
	assert.Equal(t, []string{"content", "authors"}, cfg.Backup.Workbooks)
	assert.True(t, cfg.Edit.InjectFallbackAppend)
	assert.Equal(t, "json", cfg.Logging.Format)

	settings := cfg.BreakerSettings()
	assert.Equal(t, uint32(2), settings.FailureThreshold)
	assert.Equal(t, 5*time.Second, settings.Timeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: warn
backup:
  actor: file-actor
`)
	t.Setenv("SCRATCHPAD_LOG_LEVEL", "error")
	t.Setenv("SCRATCHPAD_BACKUP_WORKBOOKS", "a, b,,c")
	t.Setenv("SCRATCHPAD_BACKUP_SCHEDULE", "@hourly")
	t.Setenv("SCRATCHPAD_BREAKER_INTERVAL", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "file-actor", cfg.Backup.Actor)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Backup.Workbooks)
	assert.Equal(t, 2*time.Minute, cfg.Connectors.Breaker.Interval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"zero threshold", func(c *Config) { c.Connectors.Breaker.FailureThreshold = 0 }, "failure_threshold"},
		{"bucket with slash", func(c *Config) { c.Backup.Bucket = "a/b" }, "backup.bucket"},
		{"bad cron", func(c *Config) { c.Backup.Schedule = "every day"; c.Backup.Workbooks = []string{"x"} }, "backup.schedule"},
		{"schedule without workbooks", func(c *Config) { c.Backup.Schedule = "@daily" }, "backup.workbooks"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("disabled breaker skips checks", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Connectors.Breaker.Enabled = false
		cfg.Connectors.Breaker.FailureThreshold = 0
		assert.NoError(t, cfg.Validate())
	})
}
