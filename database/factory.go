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
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

// connectionTarget is a DATABASE_URL resolved to a driver and dialect.
type connectionTarget struct {
	driverName string
	dsn        string
	dialect    func() schema.Dialect
	// name labels the database in logs and metrics.
	name string
	// redacted is the URL with any password masked.
	redacted string
}

// parseDatabaseURL maps the URL scheme to one of the supported drivers.
func parseDatabaseURL(raw string) (*connectionTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrDatabaseURLNotSet
	}
	if strings.HasPrefix(raw, "sqlite:") {
		return createSQLiteTarget(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %s", sanitizeSensitiveError(err))
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		return createPostgreSQLTarget(u, raw)
	case "mysql", "mariadb":
		return createMySQLTarget(u)
	case "":
		return nil, fmt.Errorf("%w: missing scheme in %q", ErrUnsupportedScheme, u.Redacted())
	default:
		return nil, fmt.Errorf("%w: %q, supported schemes: postgres, mysql, sqlite", ErrUnsupportedScheme, u.Scheme)
	}
}

func createPostgreSQLTarget(u *url.URL, raw string) (*connectionTarget, error) {
	return &connectionTarget{
		driverName: "postgres",
		dsn:        raw,
		dialect:    func() schema.Dialect { return pgdialect.New() },
		name:       strings.TrimPrefix(u.Path, "/"),
		redacted:   u.Redacted(),
	}, nil
}

func createMySQLTarget(u *url.URL) (*connectionTarget, error) {
	host := u.Host
	if host == "" {
		return nil, fmt.Errorf("invalid database URL %q: missing host", u.Redacted())
	}
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "3306")
	}
	dbName := strings.TrimPrefix(u.Path, "/")

	// Parse the credential-free part so the driver validates known params.
	dsn := fmt.Sprintf("tcp(%s)/%s", host, dbName)
	if u.RawQuery != "" {
		dsn += "?" + u.RawQuery
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL %q: %w", u.Redacted(), err)
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.ParseTime = true

	return &connectionTarget{
		driverName: "mysql",
		dsn:        cfg.FormatDSN(),
		dialect:    func() schema.Dialect { return mysqldialect.New() },
		name:       dbName,
		redacted:   u.Redacted(),
	}, nil
}

// createSQLiteTarget accepts sqlite:path, sqlite://path and sqlite::memory:.
func createSQLiteTarget(raw string) (*connectionTarget, error) {
	path := strings.TrimPrefix(raw, "sqlite:")
	path = strings.TrimPrefix(path, "//")
	var name string
	switch path {
	case "":
		return nil, fmt.Errorf("invalid database URL %q: missing path", raw)
	case ":memory:":
		// every pooled connection must see the same in-memory database
		path = "file::memory:?cache=shared"
		name = "memory"
	default:
		file := strings.SplitN(path, "?", 2)[0]
		name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	return &connectionTarget{
		driverName: sqliteshim.ShimName,
		dsn:        path,
		dialect:    func() schema.Dialect { return sqlitedialect.New() },
		name:       name,
		redacted:   raw,
	}, nil
}

// openConnection opens the driver handle and wraps it in bun. sql.Open does
// not dial, so failures here are malformed DSNs only.
func openConnection(target *connectionTarget) (*sql.DB, *bun.DB, error) {
	sqlDB, err := sql.Open(target.driverName, target.dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s connection: %s", target.driverName, sanitizeSensitiveError(err))
	}
	return sqlDB, bun.NewDB(sqlDB, target.dialect()), nil
}
