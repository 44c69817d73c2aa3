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
	"time"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/export"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/history"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent runs",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show one recorded run with its guardrail findings",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var (
	historyLimit  int
	historyFormat string
)

func openHistoryStore(ctx context.Context) (*history.Store, error) {
	if cfg.History.Disabled {
		return nil, fmt.Errorf("run history is disabled")
	}
	return history.Open(ctx, cfg.History.Path, logger)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openHistoryStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyFormat == string(export.FormatJSON) {
		return export.JSON(cmd.OutOrStdout(), runs)
	}
	export.HistoryTable(cmd.OutOrStdout(), runs)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openHistoryStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if historyFormat == string(export.FormatJSON) {
		return export.JSON(out, run)
	}
	fmt.Fprintf(out, "Run %s at %s\n", run.ID, run.CreatedAt.Local().Format(time.DateTime))
	if run.Question != "" {
		fmt.Fprintf(out, "Question: %s\n", run.Question)
	}
	fmt.Fprintf(out, "\nCandidate SQL:\n%s\n", run.CandidateSQL)
	if run.ExecutedSQL != "" {
		fmt.Fprintf(out, "\nExecuted SQL:\n%s\n", run.ExecutedSQL)
	}
	fmt.Fprintln(out)
	export.IssuesTable(out, run.Issues)
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}
	return nil
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show (0 for all)")
	historyCmd.PersistentFlags().StringVar(&historyFormat, "format", string(export.FormatTable), "Output format (table or json)")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}
