/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	// DatabaseURLEnv names the required connection URL variable.
	DatabaseURLEnv = "DATABASE_URL"
	// ConfigFileEnv optionally points at a YAML file with pool and migration tunables.
	ConfigFileEnv = "DB_CONFIG_FILE"

	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 10
	DefaultConnMaxIdleTime = 10 * time.Minute
	DefaultConnectTimeout  = 30 * time.Second
	DefaultMigrationsDir   = "./migrations"
	MigrationsTable        = "schema_migrations"
)

// ConnectionConfig describes how to reach the database and size its pool.
type ConnectionConfig struct {
	// URL is only ever taken from DATABASE_URL, never from a file.
	URL             string        `json:"-" yaml:"-"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	EnableQueryLog  bool          `json:"enable_query_log" yaml:"enable_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time" yaml:"slow_query_time"`
}

// MigrateConfig controls schema migration behavior on startup.
type MigrateConfig struct {
	EnableMigrateOnStartup bool   `json:"enable_migrate_on_startup" yaml:"enable_migrate_on_startup"`
	Dir                    string `json:"dir" yaml:"dir"`
	// IgnoreMissing tolerates applied versions whose files were removed.
	IgnoreMissing bool `json:"ignore_missing" yaml:"ignore_missing"`
	// Locking serializes concurrent migrators with a database session lock.
	Locking bool `json:"locking" yaml:"locking"`
}

// Config aggregates connection and migration settings.
type Config struct {
	ConnectionConfig ConnectionConfig `json:"connection_config" yaml:"connection"`
	MigrateConfig    MigrateConfig    `json:"migrate_config" yaml:"migrate"`
}

// DefaultConfig returns a configuration with every default applied and no URL.
func DefaultConfig() *Config {
	return &Config{
		ConnectionConfig: ConnectionConfig{
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxIdleTime: DefaultConnMaxIdleTime,
			ConnectTimeout:  DefaultConnectTimeout,
		},
		MigrateConfig: MigrateConfig{
			EnableMigrateOnStartup: true,
			Dir:                    DefaultMigrationsDir,
			Locking:                true,
		},
	}
}

// normalize replaces zero or negative limits with defaults so the pool is
// never left unbounded.
func (c *Config) normalize() {
	if c.ConnectionConfig.MaxOpenConns <= 0 {
		c.ConnectionConfig.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.ConnectionConfig.MaxIdleConns < 0 {
		c.ConnectionConfig.MaxIdleConns = 0
	}
	if c.ConnectionConfig.MaxIdleConns > c.ConnectionConfig.MaxOpenConns {
		c.ConnectionConfig.MaxIdleConns = c.ConnectionConfig.MaxOpenConns
	}
	if c.ConnectionConfig.ConnectTimeout <= 0 {
		c.ConnectionConfig.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MigrateConfig.Dir == "" {
		c.MigrateConfig.Dir = DefaultMigrationsDir
	}
}

// DBStats mirrors database/sql pool statistics.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// AppliedMigration is one row of the migration state table.
type AppliedMigration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version     int64     `bun:"version,pk" json:"version"`
	Description string    `bun:"description,notnull" json:"description"`
	InstalledOn time.Time `bun:"installed_on,notnull" json:"installed_on"`
	Success     bool      `bun:"success,notnull" json:"success"`
	Checksum    string    `bun:"checksum,notnull" json:"checksum"`
	// ExecutionTime is in nanoseconds.
	ExecutionTime int64 `bun:"execution_time,notnull" json:"execution_time"`
}

// MigrationStatus pairs a local migration file with its applied state.
type MigrationStatus struct {
	Version     int64
	Description string
	Applied     bool
	// Dirty is set when the state row exists with success=false.
	Dirty       bool
	Modified    bool
	Missing     bool
	InstalledOn time.Time
}
