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

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/assistant"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/export"
	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview [SQL]",
	Short: "Print the bounded preview of approved SQL",
	Long: `Validates the SQL and prints its preview variant, capped at --rows rows.
With --execute the preview is run and the rows are printed.`,
	Example: `./db_query_guardrail preview "SELECT Id, Name FROM dbo.Customers" --rows 10 --schema-file ./sales_schema.yaml`,
	RunE:    runPreview,
}

var (
	previewFile    string
	previewRows    int
	previewExecute bool
	previewFormat  string
	previewOut     string
)

func runPreview(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(previewFormat)
	if err != nil {
		return err
	}
	sess, result, err := checkInput(cmd, args, previewFile, previewExecute)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := cmd.OutOrStdout()
	if !result.Valid {
		return rejectWith(out, result)
	}

	rows := previewRows
	if rows <= 0 {
		rows = cfg.Guardrail.PreviewRowLimit
	}
	if !previewExecute {
		fmt.Fprintln(out, sess.validator.ToPreview(result.RewrittenText, rows))
		return nil
	}

	ctx := cmd.Context()
	if err := sess.openHistory(ctx); err != nil {
		return err
	}
	answer, err := sess.service(nil).Execute(ctx, assistant.ExecuteParams{SQL: result.RewrittenText, PreviewRows: rows})
	if err != nil {
		return reportRejection(out, err)
	}
	return emitAnswer(out, answer, format, previewOut)
}

func init() {
	previewCmd.Flags().StringVarP(&previewFile, "file", "f", "", "Read the SQL from a file ('-' for stdin)")
	previewCmd.Flags().IntVar(&previewRows, "rows", 0, "Preview row cap (defaults to --preview-rows)")
	previewCmd.Flags().BoolVar(&previewExecute, "execute", false, "Run the preview against the database")
	previewCmd.Flags().StringVar(&previewFormat, "format", string(export.FormatTable), "Output format when executing (table, csv, markdown, html, json)")
	previewCmd.Flags().StringVarP(&previewOut, "out", "o", "", "File path to export the preview rows to (format from extension)")
}
