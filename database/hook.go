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
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"
)

type silentQueriesKey struct{}

// withSilentQueries marks ctx so the slow query hook skips it. Migrations are
// expected to be slow.
func withSilentQueries(ctx context.Context) context.Context {
	return context.WithValue(ctx, silentQueriesKey{}, true)
}

func isSilent(ctx context.Context) bool {
	silent, _ := ctx.Value(silentQueriesKey{}).(bool)
	return silent
}

// addQueryHooks installs the query log and the slow query warning according
// to cfg.
func addQueryHooks(db *bun.DB, cfg *ConnectionConfig, logger Logger) {
	if cfg.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if cfg.SlowQueryTime > 0 {
		db.AddQueryHook(&SlowQueryHook{
			slowTime: cfg.SlowQueryTime,
			logger:   logger,
		})
	}
}

// SlowQueryHook warns about successful queries slower than slowTime.
type SlowQueryHook struct {
	slowTime time.Duration
	logger   Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

var slowLabel = color.New(color.FgYellow, color.Bold).SprintFunc()

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil || h.logger == nil || isSilent(ctx) {
		return
	}
	duration := time.Since(event.StartTime)
	if duration <= h.slowTime {
		return
	}
	h.logger.Warn(slowLabel("Database slow query detected"),
		"duration", duration.Round(time.Microsecond),
		"slow_threshold", h.slowTime,
		"operation", event.Operation(),
		"query", event.Query,
	)
}
