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
	"errors"
	"fmt"
	"io"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/export"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/utils"
	"github.com/spf13/cobra"
)

var errQueryRejected = errors.New("query rejected by guardrail")

var validateCmd = &cobra.Command{
	Use:   "validate [SQL]",
	Short: "Check candidate SQL against the guardrail",
	Long: `Validates candidate SQL against the read-only, single-statement and schema rules
and prints the findings together with the bounded rewrite. Exits non-zero when
the query is rejected.`,
	Example: `./db_query_guardrail validate "SELECT * FROM dbo.Customers" --schema-file ./sales_schema.yaml
cat query.sql | ./db_query_guardrail validate - --schema-file ./sales_schema.yaml --format json`,
	RunE: runValidate,
}

var (
	validateFile   string
	validateFormat string
)

func runValidate(cmd *cobra.Command, args []string) error {
	sess, result, err := checkInput(cmd, args, validateFile, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := cmd.OutOrStdout()
	if validateFormat == string(export.FormatJSON) {
		if err := export.JSON(out, result); err != nil {
			return err
		}
	} else {
		export.ResultSummary(out, result)
	}
	if !result.Valid {
		return errQueryRejected
	}
	return nil
}

// checkInput reads candidate SQL from args, --file or stdin, opens a session
// and validates the SQL against its catalog.
func checkInput(cmd *cobra.Command, args []string, file string, needDB bool) (*session, guardrail.Result, error) {
	candidate, err := utils.ReadInput(args, file, cmd.InOrStdin())
	if err != nil {
		return nil, guardrail.Result{}, fmt.Errorf("candidate SQL is required: %w", err)
	}
	sess, err := openSession(cmd.Context(), needDB)
	if err != nil {
		return nil, guardrail.Result{}, err
	}
	return sess, sess.service(nil).Check(candidate, nil), nil
}

// rejectWith prints the findings of an invalid result.
func rejectWith(w io.Writer, result guardrail.Result) error {
	export.ResultSummary(w, result)
	return errQueryRejected
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "Read the SQL from a file ('-' for stdin)")
	validateCmd.Flags().StringVar(&validateFormat, "format", string(export.FormatTable), "Output format (table or json)")
}
