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
	"errors"
	"strings"
)

// Initialize reads the configuration from the environment, opens the pool and
// applies pending migrations. It is meant to run once at process startup; on
// any failure nothing is left open.
func Initialize(ctx context.Context) (*Database, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return InitializeWithConfig(ctx, cfg)
}

// InitializeWithConfig is Initialize with an explicit configuration.
// Migrations run only when cfg.MigrateConfig.EnableMigrateOnStartup is set.
func InitializeWithConfig(ctx context.Context, cfg *Config) (*Database, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MigrateConfig.EnableMigrateOnStartup {
		if _, err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Open connects the pool without touching the schema.
func Open(ctx context.Context, cfg *Config) (*Database, error) {
	if cfg == nil {
		return nil, newInitError(ConfigurationError, errors.New("database configuration cannot be empty"))
	}
	if strings.TrimSpace(cfg.ConnectionConfig.URL) == "" {
		return nil, newInitError(ConfigurationError, ErrDatabaseURLNotSet)
	}
	cfg.normalize()

	logger := GetLogger()
	db := newDatabase(cfg, logger)
	if err := db.connect(ctx); err != nil {
		logger.Error("Failed to connect database", "error", err)
		return nil, newInitError(ConnectionError, err)
	}
	return db, nil
}
