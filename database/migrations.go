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
	"hash/crc32"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// MigrationManager applies versioned SQL scripts and records each applied
// version in the schema_migrations table.
type MigrationManager struct {
	db            *bun.DB
	logger        Logger
	fsys          fs.FS
	source        string
	ignoreMissing bool
	locking       bool
}

// NewMigrationManager reads scripts from cfg.Dir on the local filesystem.
func NewMigrationManager(db *bun.DB, logger Logger, cfg MigrateConfig) *MigrationManager {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultMigrationsDir
	}
	return &MigrationManager{
		db:            db,
		logger:        logger,
		fsys:          os.DirFS(dir),
		source:        dir,
		ignoreMissing: cfg.IgnoreMissing,
		locking:       cfg.Locking,
	}
}

// SetSource reads scripts from fsys instead, e.g. an embed.FS.
func (mm *MigrationManager) SetSource(fsys fs.FS, name string) {
	mm.fsys = fsys
	mm.source = name
}

// RunMigrations applies every pending script in ascending version order and
// returns the versions it applied. The first failure stops the run.
func (mm *MigrationManager) RunMigrations(ctx context.Context) ([]int64, error) {
	if mm.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	ctx = withSilentQueries(ctx)

	scripts, err := LoadMigrations(mm.fsys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mm.source, err)
	}

	// One pooled connection for the whole run so the session lock holds.
	conn, err := mm.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if mm.locking {
		unlock, err := mm.lock(ctx, conn)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	if err := createMigrationTable(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := listAppliedMigrations(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	if err := mm.validateHistory(scripts, applied); err != nil {
		return nil, err
	}

	done := make(map[int64]struct{}, len(applied))
	for _, a := range applied {
		done[a.Version] = struct{}{}
	}

	var ran []int64
	for _, script := range scripts {
		if _, ok := done[script.Version]; ok {
			continue
		}
		if err := mm.runMigration(ctx, conn, script); err != nil {
			return ran, err
		}
		ran = append(ran, script.Version)
	}

	if mm.logger != nil {
		mm.logger.Info("Database migrations completed!", "applied", len(ran), "total", len(scripts))
	}
	return ran, nil
}

// validateHistory rejects dirty rows, applied versions with no file, and
// files edited after they were applied.
func (mm *MigrationManager) validateHistory(scripts []MigrationScript, applied []AppliedMigration) error {
	local := make(map[int64]MigrationScript, len(scripts))
	for _, s := range scripts {
		local[s.Version] = s
	}
	for _, a := range applied {
		if !a.Success {
			return &MigrationFailure{Version: a.Version, Description: a.Description, Err: ErrDirtyMigration}
		}
		s, ok := local[a.Version]
		if !ok {
			if mm.ignoreMissing {
				continue
			}
			return &MigrationFailure{Version: a.Version, Description: a.Description, Err: ErrMissingMigration}
		}
		if s.ChecksumHex() != a.Checksum {
			return &MigrationFailure{Version: a.Version, Description: a.Description, Err: ErrChecksumMismatch}
		}
	}
	return nil
}

func (mm *MigrationManager) runMigration(ctx context.Context, conn bun.Conn, script MigrationScript) error {
	if mm.logger != nil {
		mm.logger.Debug("Applying migration", "version", script.Version, "file", script.Path)
	}
	start := time.Now()

	var err error
	switch {
	case script.NoTransaction:
		err = mm.runWithoutTransaction(ctx, conn, script, start)
	case mm.db.Dialect().Name() == dialect.MySQL:
		err = mm.runMarkedTransaction(ctx, conn, script, start)
	default:
		err = mm.runInTransaction(ctx, conn, script, start)
	}
	if err != nil {
		if mm.logger != nil {
			mm.logger.Error("Migration failed", "version", script.Version, "file", script.Path, "error", err)
		}
		return err
	}

	if mm.logger != nil {
		mm.logger.Info("Migration executed successfully", "version", script.Version, "description", script.Description, "elapsed", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// runInTransaction commits the script and its state row together.
func (mm *MigrationManager) runInTransaction(ctx context.Context, conn bun.Conn, script MigrationScript, start time.Time) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationFailure{Version: script.Version, Description: script.Description, Err: err}
	}
	var committed bool
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && mm.logger != nil {
				mm.logger.Error("Failed to rollback transaction", "error", rollbackErr)
			}
		}
	}()

	if err := mm.execStatements(ctx, tx.Tx, script); err != nil {
		return err
	}
	record := newAppliedMigration(script, true, time.Since(start))
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return &MigrationFailure{Version: script.Version, Description: script.Description, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &MigrationFailure{Version: script.Version, Description: script.Description, Err: err}
	}
	committed = true
	return nil
}

// runMarkedTransaction is used where DDL commits implicitly: the state row is
// written dirty first so a half-applied script is detected on the next run.
func (mm *MigrationManager) runMarkedTransaction(ctx context.Context, conn bun.Conn, script MigrationScript, start time.Time) error {
	record := newAppliedMigration(script, false, 0)
	if _, err := conn.NewInsert().Model(record).Exec(ctx); err != nil {
		return &MigrationFailure{Version: script.Version, Description: script.Description, Err: err}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationFailure{Version: script.Version, Description: script.Description, Err: err}
	}
	var committed bool
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := mm.execStatements(ctx, tx.Tx, script); err != nil {
		return err
	}
	if err := markApplied(ctx, tx, record, time.Since(start)); err != nil {
		return &MigrationFailure{Version: script.Version, Description: script.Description, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &MigrationFailure{Version: script.Version, Description: script.Description, Err: err}
	}
	committed = true
	return nil
}

func (mm *MigrationManager) runWithoutTransaction(ctx context.Context, conn bun.Conn, script MigrationScript, start time.Time) error {
	record := newAppliedMigration(script, false, 0)
	if _, err := conn.NewInsert().Model(record).Exec(ctx); err != nil {
		return &MigrationFailure{Version: script.Version, Description: script.Description, Err: err}
	}
	if err := mm.execStatements(ctx, conn.Conn, script); err != nil {
		return err
	}
	if err := markApplied(ctx, conn, record, time.Since(start)); err != nil {
		return &MigrationFailure{Version: script.Version, Description: script.Description, Err: err}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// execStatements runs each statement on the raw driver handle so that `?`
// in the SQL is never treated as a bun placeholder.
func (mm *MigrationManager) execStatements(ctx context.Context, db execer, script MigrationScript) error {
	for i, stmt := range script.Statements(mm.db.Dialect().Name()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_, kind := IsSqlError(err)
			return &MigrationFailure{
				Version:     script.Version,
				Description: script.Description,
				Statement:   i + 1,
				SQLKind:     kind,
				Err:         err,
			}
		}
	}
	return nil
}

func newAppliedMigration(script MigrationScript, success bool, elapsed time.Duration) *AppliedMigration {
	return &AppliedMigration{
		Version:       script.Version,
		Description:   script.Description,
		InstalledOn:   time.Now().UTC(),
		Success:       success,
		Checksum:      script.ChecksumHex(),
		ExecutionTime: elapsed.Nanoseconds(),
	}
}

func markApplied(ctx context.Context, db bun.IDB, record *AppliedMigration, elapsed time.Duration) error {
	record.Success = true
	record.ExecutionTime = elapsed.Nanoseconds()
	_, err := db.NewUpdate().
		Model(record).
		Column("success", "execution_time").
		WherePK().
		Exec(ctx)
	return err
}

func createMigrationTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*AppliedMigration)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// listAppliedMigrations returns state rows ordered by version.
func listAppliedMigrations(ctx context.Context, db bun.IDB) ([]AppliedMigration, error) {
	var migrations []AppliedMigration
	err := db.NewSelect().
		Model(&migrations).
		Order("version ASC").
		Scan(ctx)
	return migrations, err
}

// GetAppliedMigrations returns migration records ordered by version; a missing
// state table yields an empty list.
func (mm *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	migrations, err := listAppliedMigrations(ctx, mm.db)
	if err != nil {
		if _, kind := IsSqlError(err); kind == NoTableErr {
			return nil, nil
		}
		return nil, err
	}
	return migrations, nil
}

// Status reports every local script and every applied version, ordered by
// version, without changing the database.
func (mm *MigrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	scripts, err := LoadMigrations(mm.fsys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mm.source, err)
	}
	applied, err := mm.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int64]AppliedMigration, len(applied))
	for _, a := range applied {
		byVersion[a.Version] = a
	}

	statuses := make([]MigrationStatus, 0, len(scripts))
	for _, s := range scripts {
		st := MigrationStatus{Version: s.Version, Description: s.Description}
		if a, ok := byVersion[s.Version]; ok {
			st.Applied = a.Success
			st.Dirty = !a.Success
			st.Modified = a.Checksum != s.ChecksumHex()
			st.InstalledOn = a.InstalledOn
			delete(byVersion, s.Version)
		}
		statuses = append(statuses, st)
	}
	for _, a := range applied {
		if _, orphan := byVersion[a.Version]; orphan {
			statuses = append(statuses, MigrationStatus{
				Version:     a.Version,
				Description: a.Description,
				Applied:     a.Success,
				Dirty:       !a.Success,
				Missing:     true,
				InstalledOn: a.InstalledOn,
			})
		}
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Version < statuses[j].Version
	})
	return statuses, nil
}

// lock takes a session level lock keyed on the database name so that only
// one migrator runs at a time. SQLite needs none.
func (mm *MigrationManager) lock(ctx context.Context, conn bun.Conn) (func(), error) {
	name := mm.db.Dialect().Name()
	if name != dialect.PG && name != dialect.MySQL {
		return func() {}, nil
	}

	var dbName string
	query := "SELECT current_database()"
	if name == dialect.MySQL {
		query = "SELECT DATABASE()"
	}
	if err := conn.QueryRowContext(ctx, query).Scan(&dbName); err != nil {
		return nil, fmt.Errorf("failed to resolve database name for migration lock: %w", err)
	}
	key := migrationLockKey(dbName)

	if name == dialect.PG {
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(?)", key); err != nil {
			return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		return func() {
			if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(?)", key); err != nil && mm.logger != nil {
				mm.logger.Warn("Failed to release migration lock", "error", err)
			}
		}, nil
	}

	lockName := fmt.Sprintf("%s_%d", MigrationsTable, key)
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, -1)", lockName).Scan(&got); err != nil {
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		return nil, fmt.Errorf("failed to acquire migration lock %s", lockName)
	}
	return func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", lockName); err != nil && mm.logger != nil {
			mm.logger.Warn("Failed to release migration lock", "error", err)
		}
	}, nil
}

func migrationLockKey(dbName string) int64 {
	return 0x3d32ad9e * int64(crc32.ChecksumIEEE([]byte(dbName)))
}
