package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateBreaker(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateBreaker() error {
	b := c.Connectors.Breaker
	if !b.Enabled {
		return nil
	}
	if b.FailureThreshold == 0 {
		return fmt.Errorf("connectors.breaker.failure_threshold must be at least 1")
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("connectors.breaker.timeout must be positive, got %v", b.Timeout)
	}
	return nil
}

func (c *Config) validateBackup() error {
	if c.Backup.Bucket == "" || strings.ContainsAny(c.Backup.Bucket, `/\`) {
		return fmt.Errorf("backup.bucket must be a plain name, got %q", c.Backup.Bucket)
	}
	if c.Backup.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
		return fmt.Errorf("backup.schedule: %w", err)
	}
	if len(c.Backup.Workbooks) == 0 {
		return fmt.Errorf("backup.workbooks is required when backup.schedule is set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
