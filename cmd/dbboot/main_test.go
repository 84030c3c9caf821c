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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/dbboot/database"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dbboot v"+version)
	assert.Contains(t, out, "Go version:")
}

func TestMigrateAndStatusCommands(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_create_roles.sql"), []byte("CREATE TABLE roles (id INTEGER);"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2_create_users.sql"), []byte("CREATE TABLE users (id INTEGER);"), 0o600))

	t.Setenv(database.DatabaseURLEnv, "sqlite:"+filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv(database.ConfigFileEnv, "")
	t.Setenv("DB_MIGRATIONS_DIR", "")

	out, err := runCLI(t, "--env-file", "", "--dir", dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.NotContains(t, out, "applied")

	out, err = runCLI(t, "--env-file", "", "--dir", dir, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1")
	assert.Contains(t, out, "applied 2")

	out, err = runCLI(t, "--env-file", "", "--dir", dir, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "database is up to date")

	out, err = runCLI(t, "--env-file", "", "--dir", dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "create users")
	assert.Contains(t, out, "applied")
	assert.NotContains(t, out, "pending")
}

func TestMigrateCommand_IgnoresStartupSwitch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_create_roles.sql"), []byte("CREATE TABLE roles (id INTEGER);"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2_broken.sql"), []byte("CREATE TABLE broken (id INTEGER;"), 0o600))

	t.Setenv(database.DatabaseURLEnv, "sqlite:"+filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv(database.ConfigFileEnv, "")
	t.Setenv("DB_MIGRATIONS_DIR", "")
	t.Setenv("DB_MIGRATE_ON_STARTUP", "false")

	_, err := runCLI(t, "--env-file", "", "--dir", dir, "migrate")
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrMigration)

	var failure *database.MigrationFailure
	require.ErrorAs(t, err, &failure)
	assert.EqualValues(t, 2, failure.Version)

	out, err := runCLI(t, "--env-file", "", "--dir", dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "applied")
	assert.Contains(t, out, "pending")
}

func TestMigrateCommand_MissingURL(t *testing.T) {
	t.Setenv(database.DatabaseURLEnv, "")

	_, err := runCLI(t, "--env-file", "", "migrate")
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrConfiguration)
}

func TestEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DBBOOT_TEST_VALUE=from-file\nDBBOOT_TEST_OTHER=file-only\n"), 0o600))
	t.Setenv("DBBOOT_TEST_VALUE", "from-env")
	t.Setenv("DBBOOT_TEST_OTHER", "")
	require.NoError(t, os.Unsetenv("DBBOOT_TEST_OTHER"))

	require.NoError(t, loadEnvFile(envFile))
	t.Cleanup(func() { _ = os.Unsetenv("DBBOOT_TEST_OTHER") })

	assert.Equal(t, "from-env", os.Getenv("DBBOOT_TEST_VALUE"))
	assert.Equal(t, "file-only", os.Getenv("DBBOOT_TEST_OTHER"))
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
}

func TestStateLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pending", stateLabel(database.MigrationStatus{}))
	assert.Equal(t, "applied", stateLabel(database.MigrationStatus{Applied: true}))
	assert.Equal(t, "modified", stateLabel(database.MigrationStatus{Applied: true, Modified: true}))
	assert.Equal(t, "dirty", stateLabel(database.MigrationStatus{Dirty: true}))
	assert.Equal(t, "missing", stateLabel(database.MigrationStatus{Applied: true, Missing: true}))
}
