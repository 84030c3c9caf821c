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
	"bufio"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/uptrace/bun/dialect"
)

// noTransactionDirective on the first line runs a script outside a
// transaction, e.g. for CREATE INDEX CONCURRENTLY.
const noTransactionDirective = "-- no-transaction"

var migrationFileRE = regexp.MustCompile(`^(\d+)_(.+?)(\.up)?\.sql$`)

// MigrationScript is a versioned migration file read from the migrations
// directory.
type MigrationScript struct {
	Version     int64
	Description string
	Path        string
	SQL         string
	Checksum    []byte
	// NoTransaction is set by the no-transaction directive.
	NoTransaction bool
}

// ChecksumHex is the value stored in the state table.
func (m MigrationScript) ChecksumHex() string {
	return hex.EncodeToString(m.Checksum)
}

// Statements splits the script into individually executable statements,
// following the string literal rules of the given dialect.
func (m MigrationScript) Statements(name dialect.Name) []string {
	return splitSQLStatements(m.SQL, name)
}

// LoadMigrations reads every `<version>_<description>.sql` file at the root
// of fsys, sorted by ascending version. `.down.sql` files and non-SQL files
// are skipped; a badly named SQL file or a repeated version is an error.
func LoadMigrations(fsys fs.FS) ([]MigrationScript, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[int64]string, len(entries))
	scripts := make([]MigrationScript, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		lower := strings.ToLower(name)
		if entry.IsDir() || !strings.HasSuffix(lower, ".sql") || strings.HasSuffix(lower, ".down.sql") {
			continue
		}

		script, err := parseMigrationFile(fsys, name)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[script.Version]; dup {
			return nil, fmt.Errorf("%w %d: %s and %s", ErrDuplicateVersion, script.Version, prev, name)
		}
		seen[script.Version] = name
		scripts = append(scripts, script)
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].Version < scripts[j].Version
	})
	return scripts, nil
}

func parseMigrationFile(fsys fs.FS, name string) (MigrationScript, error) {
	matches := migrationFileRE.FindStringSubmatch(name)
	if matches == nil {
		return MigrationScript{}, fmt.Errorf("%w: %s, expected <version>_<description>.sql", ErrInvalidFileName, name)
	}
	version, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil || version <= 0 {
		return MigrationScript{}, fmt.Errorf("%w: %s, version must be a positive integer", ErrInvalidFileName, name)
	}

	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return MigrationScript{}, fmt.Errorf("failed to read migration %s: %w", name, err)
	}
	sum := sha512.Sum384(content)

	sql := string(content)
	return MigrationScript{
		Version:       version,
		Description:   strings.ReplaceAll(matches[2], "_", " "),
		Path:          name,
		SQL:           sql,
		Checksum:      sum[:],
		NoTransaction: hasNoTransactionDirective(sql),
	}, nil
}

func hasNoTransactionDirective(sql string) bool {
	scanner := bufio.NewScanner(strings.NewReader(sql))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		return line == noTransactionDirective
	}
	return false
}

// splitSQLStatements cuts content at top-level semicolons. Semicolons inside
// quotes, comments and dollar-quoted bodies do not count. Comments are
// dropped and empty statements are skipped. Backslash escapes are honoured
// in MySQL strings and in Postgres E'...' strings only; elsewhere a backslash
// is an ordinary character.
func splitSQLStatements(content string, name dialect.Name) []string {
	var (
		statements []string
		current    strings.Builder
	)
	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	src := []rune(content)
	n := len(src)
	for i := 0; i < n; i++ {
		c := src[i]
		switch {
		case c == '-' && i+1 < n && src[i+1] == '-':
			for i < n && src[i] != '\n' {
				i++
			}
			current.WriteRune('\n')
		case c == '/' && i+1 < n && src[i+1] == '*':
			i += 2
			for i+1 < n && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i++
			current.WriteRune(' ')
		case c == '\'' || c == '"' || c == '`':
			escapes := c != '`' && name == dialect.MySQL
			if c == '\'' && name == dialect.PG && isEscapeStringPrefix(src, i) {
				escapes = true
			}
			end := scanQuoted(src, i, c, escapes)
			current.WriteString(string(src[i:end]))
			i = end - 1
		case c == '$':
			if tag, ok := dollarTag(src, i); ok {
				end := scanDollarQuoted(src, i+len(tag), tag)
				current.WriteString(string(src[i:end]))
				i = end - 1
			} else {
				current.WriteRune(c)
			}
		case c == ';':
			flush()
		default:
			current.WriteRune(c)
		}
	}
	flush()
	return statements
}

// scanQuoted returns the index just past the closing quote; a doubled quote
// is an escaped quote, and so is a backslashed one when escapes is set.
func scanQuoted(src []rune, start int, quote rune, escapes bool) int {
	i := start + 1
	for i < len(src) {
		if src[i] == quote {
			if i+1 < len(src) && src[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		if escapes && src[i] == '\\' && i+1 < len(src) {
			i += 2
			continue
		}
		i++
	}
	return len(src)
}

// isEscapeStringPrefix reports whether the quote at i opens an E'...' string.
func isEscapeStringPrefix(src []rune, i int) bool {
	if i == 0 || (src[i-1] != 'E' && src[i-1] != 'e') {
		return false
	}
	if i == 1 {
		return true
	}
	p := src[i-2]
	return !(p == '_' || p == '$' || unicode.IsLetter(p) || unicode.IsDigit(p))
}

// dollarTag recognises $$ and $tag$ openers; $1 style parameters are not tags.
func dollarTag(src []rune, start int) ([]rune, bool) {
	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == '$' {
			return src[start : i+1], true
		}
		isLetter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isLetter && !(isDigit && i > start+1) {
			return nil, false
		}
		i++
	}
	return nil, false
}

func scanDollarQuoted(src []rune, from int, tag []rune) int {
	for i := from; i+len(tag) <= len(src); i++ {
		if string(src[i:i+len(tag)]) == string(tag) {
			return i + len(tag)
		}
	}
	return len(src)
}
