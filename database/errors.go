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
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// ErrorKind tells which startup step an InitError came from.
type ErrorKind int

const (
	ConfigurationError ErrorKind = iota + 1
	ConnectionError
	MigrationError
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigurationError:
		return "configuration error"
	case ConnectionError:
		return "connection error"
	case MigrationError:
		return "migration error"
	default:
		return "unknown error"
	}
}

// Sentinels matched by errors.Is against an *InitError of the same kind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrConnection    = errors.New("connection error")
	ErrMigration     = errors.New("migration error")
)

var (
	ErrDatabaseURLNotSet = errors.New(DatabaseURLEnv + " must be set")
	ErrUnsupportedScheme = errors.New("unsupported database URL scheme")
	ErrDirtyMigration    = errors.New("migration was previously applied but did not complete")
	ErrMissingMigration  = errors.New("migration was previously applied but is missing from the migrations directory")
	ErrChecksumMismatch  = errors.New("migration was previously applied but has been modified")
	ErrDuplicateVersion  = errors.New("duplicate migration version")
	ErrInvalidFileName   = errors.New("invalid migration file name")
)

// InitError is the single error type returned by the initializer. Kind is the
// failed step, Err the underlying cause.
type InitError struct {
	Kind ErrorKind
	Err  error
}

func newInitError(kind ErrorKind, err error) *InitError {
	return &InitError{Kind: kind, Err: err}
}

func (e *InitError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

func (e *InitError) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == ConfigurationError
	case ErrConnection:
		return e.Kind == ConnectionError
	case ErrMigration:
		return e.Kind == MigrationError
	}
	return false
}

// KindOf returns the ErrorKind of the first InitError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var initErr *InitError
	if errors.As(err, &initErr) {
		return initErr.Kind
	}
	return 0
}

// MigrationFailure describes the migration version that stopped a run.
type MigrationFailure struct {
	Version     int64
	Description string
	// Statement is the 1-based index of the failing statement, 0 when the
	// failure is not tied to a statement.
	Statement int
	SQLKind   SQLError
	Err       error
}

func (f *MigrationFailure) Error() string {
	if f.Statement > 0 {
		return fmt.Sprintf("migration %d (%s) failed at statement %d: %v", f.Version, f.Description, f.Statement, f.Err)
	}
	return fmt.Sprintf("migration %d (%s): %v", f.Version, f.Description, f.Err)
}

func (f *MigrationFailure) Unwrap() error {
	return f.Err
}

var (
	credentialsPattern = regexp.MustCompile(`://[^@/\s]+@`)
	passwordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
)

// sanitizeSensitiveError strips credentials from connection strings that
// drivers echo back in their messages.
func sanitizeSensitiveError(err error) string {
	if err == nil {
		return ""
	}
	s := credentialsPattern.ReplaceAllString(err.Error(), "://***@")
	return passwordPattern.ReplaceAllString(s, "${1}***")
}

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoIndexErr
	NoColumnErr
	ExistIndexErr
	ExistColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
	SyntaxErr
	AuthErr
)

var sqlErrorNames = map[SQLError]string{
	UnknownErr:                  "unknown",
	NoRowsErr:                   "no_rows",
	NoIndexErr:                  "no_index",
	NoColumnErr:                 "no_column",
	ExistIndexErr:               "index_exists",
	ExistColumnErr:              "column_exists",
	NoTableErr:                  "no_table",
	ExistTableErr:               "table_exists",
	DuplicateKeyErr:             "duplicate_key",
	NotNullViolationErr:         "not_null_violation",
	ForeignKeyViolationErr:      "foreign_key_violation",
	CheckConstraintViolationErr: "check_violation",
	DataTruncatedErr:            "data_truncated",
	InvalidTypeCastErr:          "invalid_type_cast",
	SyntaxErr:                   "syntax_error",
	AuthErr:                     "auth_failed",
}

func (e SQLError) String() string {
	if s, ok := sqlErrorNames[e]; ok {
		return s
	}
	return sqlErrorNames[UnknownErr]
}

var pqCodes = map[pq.ErrorCode]SQLError{
	"42703": NoColumnErr,
	"42704": NoIndexErr,
	"42P01": NoTableErr,
	"42P07": ExistTableErr,
	"42701": ExistColumnErr,
	"23505": DuplicateKeyErr,
	"23502": NotNullViolationErr,
	"23503": ForeignKeyViolationErr,
	"23514": CheckConstraintViolationErr,
	"22001": DataTruncatedErr,
	"42804": InvalidTypeCastErr,
	"42601": SyntaxErr,
	"28P01": AuthErr,
	"28000": AuthErr,
}

// IsSqlError reports whether err came from the database and classifies it.
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1091:
			return true, NoIndexErr
		case 1054:
			return true, NoColumnErr
		case 1061:
			return true, ExistIndexErr
		case 1060:
			return true, ExistColumnErr
		case 1146:
			return true, NoTableErr
		case 1050:
			return true, ExistTableErr
		case 1062:
			return true, DuplicateKeyErr
		case 1048:
			return true, NotNullViolationErr
		case 1216, 1217, 1451, 1452:
			return true, ForeignKeyViolationErr
		case 3819:
			return true, CheckConstraintViolationErr
		case 1265, 1406:
			return true, DataTruncatedErr
		case 1064:
			return true, SyntaxErr
		case 1045:
			return true, AuthErr
		default:
			return true, UnknownErr
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if kind, ok := pqCodes[pqErr.Code]; ok {
			return true, kind
		}
		return true, UnknownErr
	}

	// sqlite drivers only expose messages
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "no such column"):
		return true, NoColumnErr
	case strings.Contains(s, "no such index"):
		return true, NoIndexErr
	case strings.Contains(s, "no such table"):
		return true, NoTableErr
	case strings.Contains(s, "already exists") && strings.Contains(s, "index"):
		return true, ExistIndexErr
	case strings.Contains(s, "already exists") && strings.Contains(s, "table"):
		return true, ExistTableErr
	case strings.Contains(s, "duplicate column name"):
		return true, ExistColumnErr
	case strings.Contains(s, "unique constraint failed"):
		return true, DuplicateKeyErr
	case strings.Contains(s, "not null constraint failed"):
		return true, NotNullViolationErr
	case strings.Contains(s, "foreign key constraint failed"):
		return true, ForeignKeyViolationErr
	case strings.Contains(s, "check constraint failed"):
		return true, CheckConstraintViolationErr
	case strings.Contains(s, "syntax error"):
		return true, SyntaxErr
	}
	return false, UnknownErr
}
