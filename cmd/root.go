/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/assistant"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/config"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/database"
	_ "github.com/GoogleCloudPlatform/db-query-guardrail/internal/database/mysql"
	_ "github.com/GoogleCloudPlatform/db-query-guardrail/internal/database/postgres"
	_ "github.com/GoogleCloudPlatform/db-query-guardrail/internal/database/sqlserver"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/genai"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/history"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/logging"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string

	// Populated by initFlagsAndConfig before any subcommand runs.
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "db_query_guardrail",
	Short: "A tool to ask questions of a database through a SQL guardrail",
	Long: `db_query_guardrail turns natural-language questions into SQL with an LLM and
only ever runs that SQL as a single bounded read-only query against objects
that exist in the database schema.`,
	SilenceUsage:      true,
	PersistentPreRunE: initFlagsAndConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// initFlagsAndConfig merges defaults, the config file, the environment and
// command flags into cfg and builds the logger.
func initFlagsAndConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	l, err := logging.New(loaded.Log.Level, loaded.Log.Development)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = l
	return nil
}

// session bundles what every guardrail command needs. db is nil when the
// catalog came from a snapshot file and nothing has to be executed.
type session struct {
	db        *database.DB
	catalog   *schema.Catalog
	validator *guardrail.Validator
	history   *history.Store
}

// openSession connects to the database when needDB is set or no schema file
// is configured, then loads the catalog.
func openSession(ctx context.Context, needDB bool) (*session, error) {
	dialect, err := guardrail.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}
	s := &session{
		validator: guardrail.New(guardrail.Options{
			DefaultRowLimit: cfg.Guardrail.DefaultRowLimit,
			Dialect:         dialect,
		}, logger),
	}

	if needDB || cfg.Database.SchemaFile == "" {
		db, err := setupDatabase(ctx)
		if err != nil {
			return nil, err
		}
		s.db = db
	}

	if cfg.Database.SchemaFile != "" {
		s.catalog, err = schema.LoadFile(cfg.Database.SchemaFile)
		if err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("Loaded schema catalog from file",
			zap.String("path", cfg.Database.SchemaFile),
			zap.Int("objects", s.catalog.Len()))
		return s, nil
	}

	s.catalog, err = s.db.LoadSchema(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return s, nil
}

func setupDatabase(ctx context.Context) (*database.DB, error) {
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.QueryTimeout = cfg.Guardrail.QueryTimeout
	return db, nil
}

// openHistory opens the run history unless it is disabled.
func (s *session) openHistory(ctx context.Context) error {
	if cfg.History.Disabled {
		return nil
	}
	store, err := history.Open(ctx, cfg.History.Path, logger)
	if err != nil {
		return err
	}
	s.history = store
	return nil
}

// service builds the assistant around the session. gen may be nil for
// commands that never generate SQL.
func (s *session) service(gen genai.SQLGenerator) *assistant.Service {
	var exec assistant.Executor
	if s.db != nil {
		exec = s.db
	}
	var recorder assistant.Recorder
	if s.history != nil {
		recorder = s.history
	}
	return assistant.NewService(gen, exec, s.validator, s.catalog, recorder, assistant.Config{
		MaxGenerationAttempts: cfg.Guardrail.MaxGenerationAttempts,
		PreviewRowLimit:       cfg.Guardrail.PreviewRowLimit,
		Retry:                 assistant.DefaultRetryOptions,
	}, logger)
}

func (s *session) Close() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			logger.Warn("Failed to close history store", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML). Values can also be set via GUARDRAIL_* environment variables")

	// Database connection flags
	rootCmd.PersistentFlags().String("dialect", "", fmt.Sprintf("Database dialect (%s)", strings.Join(config.SupportedDialects, ", ")))
	rootCmd.PersistentFlags().String("host", "", "Database host")
	rootCmd.PersistentFlags().Int("port", 0, "Database port")
	rootCmd.PersistentFlags().String("username", "", "Database username")
	rootCmd.PersistentFlags().String("password", "", "Database password")
	rootCmd.PersistentFlags().String("database", "", "Database name")
	rootCmd.PersistentFlags().String("sslmode", "", "SSL mode for standard connections (disable, require, ...)")
	rootCmd.PersistentFlags().String("cloudsql-instance-connection-name", "", "Cloud SQL instance connection name (for Cloud SQL dialects)")
	rootCmd.PersistentFlags().Bool("cloudsql-use-private-ip", false, "Use private IP for Cloud SQL connection (Cloud SQL)")
	rootCmd.PersistentFlags().String("schema-file", "", "Read the schema catalog from a YAML snapshot instead of the database")

	// LLM flags
	rootCmd.PersistentFlags().String("llm-provider", "", fmt.Sprintf("LLM provider (%s)", strings.Join(config.SupportedProviders, ", ")))
	rootCmd.PersistentFlags().String("llm-model", "", "LLM model name (defaults per provider)")
	rootCmd.PersistentFlags().String("llm-api-key", "", "LLM API key (can also be set via GEMINI_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY)")
	rootCmd.PersistentFlags().String("llm-base-url", "", "Override the LLM API endpoint")

	// Guardrail flags
	rootCmd.PersistentFlags().Int("row-limit", 0, "Row bound injected into unbounded queries")
	rootCmd.PersistentFlags().Int("preview-rows", 0, "Row cap for previews")
	rootCmd.PersistentFlags().Duration("query-timeout", 0, "Timeout for each query run against the database")
	rootCmd.PersistentFlags().Int("max-attempts", 0, "Maximum number of generate and validate rounds per question")

	// History and logging flags
	rootCmd.PersistentFlags().String("history-path", "", "Path of the sqlite run history")
	rootCmd.PersistentFlags().Bool("no-history", false, "Do not record runs")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-development", false, "Human-readable development logging")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(historyCmd)

}
