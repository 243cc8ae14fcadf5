package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/scratchpad/internal/connector"
)

// EnvPrefix is stripped from environment variables before mapping them to
// configuration keys.
const EnvPrefix = "SCRATCHPAD_"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all runtime configuration.
type Config struct {
	Store      StoreConfig      `koanf:"store"`
	Connectors ConnectorsConfig `koanf:"connectors"`
	Backup     BackupConfig     `koanf:"backup"`
	Edit       EditConfig       `koanf:"edit"`
	Logging    LoggingConfig    `koanf:"logging"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// StoreConfig selects the relational backend.
type StoreConfig struct {
	Driver string `koanf:"driver"` // "sqlite" or "postgres"
	Path   string `koanf:"path"`   // sqlite database file
	DSN    string `koanf:"dsn"`    // postgres connection string
}

// ConnectorsConfig configures the registered connectors.
type ConnectorsConfig struct {
	FileDir string        `koanf:"file_dir"`
	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig mirrors connector.BreakerSettings.
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// BackupConfig configures git-backed workbook backups.
type BackupConfig struct {
	Root   string `koanf:"root"`   // directory holding one bare repository per bucket
	Bucket string `koanf:"bucket"` // bucket used by backup and merge commands
	Actor  string `koanf:"actor"`  // recorded in commit messages

	// Schedule is a cron expression applied to every workbook in Workbooks.
	Schedule  string   `koanf:"schedule"`
	Workbooks []string `koanf:"workbooks"`
}

// EditConfig tunes the cell edit operations.
type EditConfig struct {
	InjectFallbackAppend bool `koanf:"inject_fallback_append"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

func defaultConfig() *Config {
	breaker := connector.DefaultBreakerSettings()
	return &Config{
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "scratchpad.db",
		},
		Connectors: ConnectorsConfig{
			FileDir: "remote",
			Breaker: BreakerConfig{
				Enabled:          true,
				MaxRequests:      breaker.MaxRequests,
				Interval:         breaker.Interval,
				Timeout:          breaker.Timeout,
				FailureThreshold: breaker.FailureThreshold,
			},
		},
		Backup: BackupConfig{
			Root:   "backups",
			Bucket: "default",
			Actor:  "scratchpad",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration from three layers:
//  1. Built-in defaults
//  2. YAML file at path (skipped when path is empty)
//  3. SCRATCHPAD_* environment variables
//
// Later layers override earlier ones. The result is validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envMappings maps prefix-stripped, lower-cased variable names to keys.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"store_driver": "store.driver",
	"db_path":      "store.path",
	"postgres_dsn": "store.dsn",

	"file_connector_dir":        "connectors.file_dir",
	"breaker_enabled":           "connectors.breaker.enabled",
	"breaker_max_requests":      "connectors.breaker.max_requests",
	"breaker_interval":          "connectors.breaker.interval",
	"breaker_timeout":           "connectors.breaker.timeout",
	"breaker_failure_threshold": "connectors.breaker.failure_threshold",

	"backup_root":      "backup.root",
	"backup_bucket":    "backup.bucket",
	"backup_actor":     "backup.actor",
	"backup_schedule":  "backup.schedule",
	"backup_workbooks": "backup.workbooks",

	"inject_fallback_append": "edit.inject_fallback_append",

	"log_level":  "logging.level",
	"log_format": "logging.format",

	"metrics_enabled": "metrics.enabled",
	"metrics_addr":    "metrics.addr",
}

func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}

// processSliceFields splits comma-separated env values for list keys.
func processSliceFields(k *koanf.Koanf) error {
	for _, key := range []string{"backup.workbooks"} {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if err := k.Set(key, items); err != nil {
			return err
		}
	}
	return nil
}

// BreakerSettings converts the breaker section for connector.NewBreaker.
func (c *Config) BreakerSettings() connector.BreakerSettings {
	b := c.Connectors.Breaker
	return connector.BreakerSettings{
		MaxRequests:      b.MaxRequests,
		Interval:         b.Interval,
		Timeout:          b.Timeout,
		FailureThreshold: b.FailureThreshold,
	}
}
