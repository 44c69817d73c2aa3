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

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/spf13/cobra"
)

var countCmd = &cobra.Command{
	Use:   "count [SQL]",
	Short: "Print the row-count probe of approved SQL",
	Long: `Validates the SQL and prints the COUNT(*) probe for it, or "unknown" when the
query shape cannot be counted by rewriting. With --execute the probe is run and
the estimate is printed.`,
	Example: `./db_query_guardrail count "SELECT Id FROM dbo.Customers WHERE Region = 'EU'" --schema-file ./sales_schema.yaml`,
	RunE:    runCount,
}

var (
	countFile    string
	countExecute bool
)

func runCount(cmd *cobra.Command, args []string) error {
	sess, result, err := checkInput(cmd, args, countFile, countExecute)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := cmd.OutOrStdout()
	if !result.Valid {
		return rejectWith(out, result)
	}

	if !countExecute {
		probe := sess.validator.ToCountProbe(result.RewrittenText)
		if !probe.OK {
			fmt.Fprintln(out, guardrail.UnknownRowCount)
			return nil
		}
		fmt.Fprintln(out, probe.SQL)
		return nil
	}

	estimate := sess.service(nil).EstimateRowCount(cmd.Context(), result.RewrittenText)
	fmt.Fprintf(out, "Estimated rows: %s\n", estimate)
	return nil
}

func init() {
	countCmd.Flags().StringVarP(&countFile, "file", "f", "", "Read the SQL from a file ('-' for stdin)")
	countCmd.Flags().BoolVar(&countExecute, "execute", false, "Run the probe against the database")
}
