package database

import (
	"errors"
	"time"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config holds store configuration.
type Config struct {
	Driver          string        `json:"driver"`
	DatabasePath    string        `json:"database_path"`
	DatabaseURL     string        `json:"database_url"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	// RetryDelay is how long the SQLite writer waits before its single retry.
	RetryDelay time.Duration `json:"retry_delay"`
}

// DefaultConfig returns a SQLite configuration sized for a handful of classrooms.
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		DatabasePath:    "./data/mindlink.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		RetryDelay:      5 * time.Second,
	}
}

// Validate ensures the configuration is usable for the selected driver.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return errors.New("database path cannot be empty")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL cannot be empty for postgres")
		}
	default:
		return errors.New("database driver must be sqlite3 or postgres")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	return nil
}

// SQLitePragmas are applied on every new SQLite store.
var SQLitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}
