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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// StatsCollector exports the pool statistics as go_sql_* metrics labelled
// with the database name.
func (d *Database) StatsCollector() prometheus.Collector {
	name := "default"
	if d.target != nil && d.target.name != "" {
		name = d.target.name
	}
	return collectors.NewDBStatsCollector(d.sqlDB, name)
}

// RegisterMetrics registers StatsCollector with reg.
func (d *Database) RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(d.StatsCollector())
}
