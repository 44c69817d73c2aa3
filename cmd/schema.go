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
	"fmt"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the schema catalog",
}

var schemaDumpCmd = &cobra.Command{
	Use:     "dump",
	Short:   "Write the database schema catalog to a YAML snapshot",
	Long:    `Introspects tables, views, columns and foreign keys and writes them as a YAML snapshot usable with --schema-file.`,
	Example: `./db_query_guardrail schema dump --dialect postgres --host localhost --username user --password pass --database sales --out ./sales_schema.yaml`,
	RunE:    runSchemaDump,
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the schema catalog as the LLM sees it",
	RunE:  runSchemaShow,
}

var schemaOut string

func runSchemaDump(cmd *cobra.Command, args []string) error {
	outputFile := schemaOut
	if outputFile == "" {
		outputFile = utils.GetDefaultOutputFilePath(cfg.Database.DBName, "schema-dump")
	}

	ctx := cmd.Context()
	db, err := setupDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	catalog, err := db.LoadSchema(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	if err := schema.WriteFile(outputFile, catalog); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema catalog (%d tables, %d views) written to: %s\n",
		len(catalog.Tables()), len(catalog.Views()), outputFile)
	logger.Info("Schema dump completed", zap.String("path", outputFile))
	return nil
}

func runSchemaShow(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer sess.Close()
	fmt.Fprint(cmd.OutOrStdout(), sess.catalog.Describe())
	return nil
}

func init() {
	schemaDumpCmd.Flags().StringVarP(&schemaOut, "out", "o", "", "File path to write the snapshot to (defaults to <database>_schema.yaml)")
	schemaCmd.AddCommand(schemaDumpCmd)
	schemaCmd.AddCommand(schemaShowCmd)
}
