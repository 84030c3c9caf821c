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
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Database is the shared handle to a bounded connection pool. It is safe for
// concurrent use; pass it explicitly to whatever needs database access.
type Database struct {
	config *Config
	target *connectionTarget
	db     *bun.DB
	sqlDB  *sql.DB
	logger Logger
	// migrationsFS overrides the migrations directory when set.
	migrationsFS   fs.FS
	migrationsName string
	// migrated lists the versions applied through this handle.
	migrated []int64
	mu       sync.RWMutex
	closed   bool
}

func newDatabase(cfg *Config, logger Logger) *Database {
	return &Database{
		config: cfg,
		logger: logger,
	}
}

// connect resolves the URL, opens the pool and proves it with a ping. On
// failure nothing is left open.
func (d *Database) connect(ctx context.Context) error {
	target, err := parseDatabaseURL(d.config.ConnectionConfig.URL)
	if err != nil {
		return err
	}

	sqlDB, db, err := openConnection(target)
	if err != nil {
		return err
	}
	var success bool
	defer func() {
		if !success {
			_ = sqlDB.Close()
		}
	}()

	d.configureConnectionPool(sqlDB)
	addQueryHooks(db, &d.config.ConnectionConfig, d.logger)

	pingCtx, cancel := context.WithTimeout(ctx, d.config.ConnectionConfig.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database connection test failed for %s: %s", target.redacted, sanitizeSensitiveError(err))
	}

	d.target = target
	d.sqlDB = sqlDB
	d.db = db
	success = true

	if d.logger != nil {
		d.logger.Info("Database connected successfully",
			"dialect", db.Dialect().Name().String(),
			"url", target.redacted,
			"max_open_conns", d.config.ConnectionConfig.MaxOpenConns,
		)
	}
	return nil
}

func (d *Database) configureConnectionPool(sqlDB *sql.DB) {
	cfg := d.config.ConnectionConfig
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

// DB returns the bun handle over the pool.
func (d *Database) DB() *bun.DB {
	return d.db
}

// SQLDB returns the underlying database/sql pool.
func (d *Database) SQLDB() *sql.DB {
	return d.sqlDB
}

// Config returns a copy of the normalized configuration the pool was opened with.
func (d *Database) Config() Config {
	return *d.config
}

// Dialect names the SQL dialect behind the pool.
func (d *Database) Dialect() dialect.Name {
	return d.db.Dialect().Name()
}

// Conn borrows one connection from the pool. When all connections are in use
// it waits until one is returned or ctx is done. Close the Conn to return it.
func (d *Database) Conn(ctx context.Context) (bun.Conn, error) {
	return d.db.Conn(ctx)
}

// UseMigrations makes Migrate and MigrationStatus read scripts from fsys
// instead of the configured directory.
func (d *Database) UseMigrations(fsys fs.FS, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.migrationsFS = fsys
	d.migrationsName = name
}

func (d *Database) migrationManager() *MigrationManager {
	mm := NewMigrationManager(d.db, d.logger, d.config.MigrateConfig)
	d.mu.RLock()
	if d.migrationsFS != nil {
		mm.SetSource(d.migrationsFS, d.migrationsName)
	}
	d.mu.RUnlock()
	return mm
}

// Migrate applies pending migrations. Failures are MigrationErrors.
func (d *Database) Migrate(ctx context.Context) ([]int64, error) {
	ran, err := d.migrationManager().RunMigrations(ctx)
	if len(ran) > 0 {
		d.mu.Lock()
		d.migrated = append(d.migrated, ran...)
		d.mu.Unlock()
	}
	if err != nil {
		return ran, newInitError(MigrationError, err)
	}
	return ran, nil
}

// Migrated returns the versions applied by Migrate on this handle, including
// the run made by InitializeWithConfig, in the order they were applied.
func (d *Database) Migrated() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]int64(nil), d.migrated...)
}

// AppliedMigrations returns the state table rows ordered by version.
func (d *Database) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	return d.migrationManager().GetAppliedMigrations(ctx)
}

// MigrationStatus compares the migration files with the state table.
func (d *Database) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	return d.migrationManager().Status(ctx)
}

// Stats snapshots the pool counters.
func (d *Database) Stats() *DBStats {
	stats := d.sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

// Close releases the pool. Calling it more than once is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.db == nil {
		return nil
	}
	d.closed = true

	err := d.db.Close()
	if d.logger != nil {
		if err != nil {
			d.logger.Error("Failed to close database connection", "error", err)
		} else {
			d.logger.Info("Database connection closed")
		}
	}
	return err
}
