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
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tomoncle/dbboot/database"
	"github.com/tomoncle/dbboot/utils"
)

var version = "0.1.0"

type rootOptions struct {
	envFile   string
	logLevel  string
	logFormat string
	noColor   bool
	dir       string
	timeout   time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		database.GetLogger().Error("dbboot failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "dbboot",
		Short: "Connect to DATABASE_URL and apply pending SQL migrations",
		Long: `dbboot opens a bounded connection pool against DATABASE_URL and applies the
versioned SQL scripts of the migrations directory in ascending order.

Settings come from the environment, optionally from a .env file and from the
YAML file named by DB_CONFIG_FILE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			utils.SetOutput(cmd.ErrOrStderr())
			if opts.logFormat != "" {
				utils.ConfigureConsoleLogFormat(opts.logFormat)
			}
			if opts.logLevel != "" {
				utils.ConfigureLogLevel(opts.logLevel)
			}
			if opts.noColor {
				color.NoColor = true
			}
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file; real environment variables take precedence")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to LOG_LEVEL")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format (text, json); defaults to CONSOLE_LOG_FORMAT")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", utils.EnvDefaultBool("DBBOOT_NO_COLOR", false), "Disable colored output")
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "Migrations directory; defaults to DB_MIGRATIONS_DIR or ./migrations")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", utils.EnvDefaultDuration("DBBOOT_TIMEOUT", 0), "Overall deadline for the command, 0 for none")

	root.AddCommand(newMigrateCmd(opts), newStatusCmd(opts), newVersionCmd())
	return root
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Initialize the database and apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd.Context(), opts.timeout)
			defer cancel()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cfg.MigrateConfig.EnableMigrateOnStartup = true
			db, err := database.InitializeWithConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ran := db.Migrated()
			for _, v := range ran {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d\n", v)
			}
			if len(ran) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
			}
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations without changing the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd.Context(), opts.timeout)
			defer cancel()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, err := database.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			statuses, err := db.MigrationStatus(ctx)
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbboot v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// loadEnvFile loads path when it exists. Variables already set are kept.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadConfig(opts *rootOptions) (*database.Config, error) {
	cfg, err := database.LoadConfig()
	if err != nil {
		return nil, err
	}
	if opts.dir != "" {
		cfg.MigrateConfig.Dir = opts.dir
	}
	return cfg, nil
}

func commandContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func renderStatus(w io.Writer, statuses []database.MigrationStatus) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Version", "Description", "State", "Installed On"})
	table.SetAutoWrapText(false)
	for _, st := range statuses {
		installed := ""
		if !st.InstalledOn.IsZero() {
			installed = st.InstalledOn.Local().Format("2006-01-02 15:04:05")
		}
		table.Append([]string{fmt.Sprint(st.Version), st.Description, stateLabel(st), installed})
	}
	table.Render()
}

func stateLabel(st database.MigrationStatus) string {
	switch {
	case st.Missing:
		return "missing"
	case st.Dirty:
		return "dirty"
	case st.Modified:
		return "modified"
	case st.Applied:
		return "applied"
	default:
		return "pending"
	}
}
