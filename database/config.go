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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig builds the startup configuration from the process environment.
//
// DATABASE_URL is required and has no default. Tunables are read from the
// YAML file named by DB_CONFIG_FILE, if any, and then from DB_* variables,
// which win over the file. Any failure is a ConfigurationError.
func LoadConfig() (*Config, error) {
	url, ok := os.LookupEnv(DatabaseURLEnv)
	if !ok || strings.TrimSpace(url) == "" {
		return nil, newInitError(ConfigurationError, ErrDatabaseURLNotSet)
	}

	cfg := DefaultConfig()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, newInitError(ConfigurationError, err)
		}
	}
	if err := overrideFromEnv(cfg); err != nil {
		return nil, newInitError(ConfigurationError, err)
	}

	cfg.ConnectionConfig.URL = strings.TrimSpace(url)
	cfg.normalize()
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// overrideFromEnv overrides configuration values from environment variables.
func overrideFromEnv(cfg *Config) error {
	conn := &cfg.ConnectionConfig
	mig := &cfg.MigrateConfig

	ints := []struct {
		key string
		dst *int
	}{
		{"DB_MAX_OPEN_CONNS", &conn.MaxOpenConns},
		{"DB_MAX_IDLE_CONNS", &conn.MaxIdleConns},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
			}
			*e.dst = n
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", &conn.ConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", &conn.ConnMaxIdleTime},
		{"DB_CONNECT_TIMEOUT", &conn.ConnectTimeout},
		{"DB_SLOW_QUERY_TIME", &conn.SlowQueryTime},
	}
	for _, e := range durations {
		if v := os.Getenv(e.key); v != "" {
			d, err := parseEnvDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
			}
			*e.dst = d
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"DB_ENABLE_QUERY_LOG", &conn.EnableQueryLog},
		{"DB_MIGRATE_ON_STARTUP", &mig.EnableMigrateOnStartup},
		{"DB_MIGRATE_IGNORE_MISSING", &mig.IgnoreMissing},
		{"DB_MIGRATE_LOCKING", &mig.Locking},
	}
	for _, e := range bools {
		if v := os.Getenv(e.key); v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
			}
			*e.dst = b
		}
	}

	if dir := os.Getenv("DB_MIGRATIONS_DIR"); dir != "" {
		mig.Dir = dir
	}
	return nil
}

// parseEnvDuration accepts whole seconds ("30") or a Go duration ("1m30s").
func parseEnvDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
