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

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/assistant"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/export"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/genai"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var askCmd = &cobra.Command{
	Use:   "ask [QUESTION]",
	Short: "Ask a question and run the guarded SQL",
	Long: `Generates SQL for a natural-language question, validates it against the schema
catalog, feeds rejections back to the LLM and runs the approved query. By
default only a preview is run; --full runs the bounded query after confirmation.`,
	Example: `./db_query_guardrail ask "Which regions have the most customers?" --dialect sqlserver --host localhost --username sa --password pass --database sales`,
	RunE:    runAsk,
}

var (
	askFile   string
	askFull   bool
	askYes    bool
	askFormat string
	askOut    string
)

func runAsk(cmd *cobra.Command, args []string) error {
	question, err := utils.ReadInput(args, askFile, cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("a question is required: %w", err)
	}
	format, err := export.ParseFormat(askFormat)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger.Info("Starting ask operation",
		zap.String("dialect", cfg.Database.Dialect),
		zap.String("database", cfg.Database.DBName),
		zap.String("provider", cfg.LLM.Provider))

	sess, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.openHistory(ctx); err != nil {
		return err
	}

	gen, err := genai.NewGenerator(ctx, genai.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		BaseURL:   cfg.LLM.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
		Dialect:   sess.validator.Dialect(),
	}, logger)
	if err != nil {
		return err
	}
	defer gen.Close()

	service := sess.service(gen)
	answer, err := service.Ask(ctx, assistant.AskParams{
		Question: question,
		Full:     askFull && askYes,
	})
	if err != nil {
		return reportRejection(cmd.OutOrStdout(), err)
	}

	// Without --yes the full query only runs once the user has seen it.
	if askFull && !askYes {
		out := cmd.OutOrStdout()
		printAnswer(out, answer, format)
		if !utils.ConfirmAction(cmd.InOrStdin(), out, "query", answer.Validation.RewrittenText) {
			fmt.Fprintln(out, "Full query not run.")
			return nil
		}
		full, err := service.Execute(ctx, assistant.ExecuteParams{SQL: answer.Validation.RewrittenText, Full: true})
		if err != nil {
			return reportRejection(out, err)
		}
		full.Question = answer.Question
		full.Generation = answer.Generation
		full.Attempts = answer.Attempts
		answer = full
	}

	if err := emitAnswer(cmd.OutOrStdout(), answer, format, askOut); err != nil {
		return err
	}
	logger.Info("Ask operation completed", zap.String("run_id", answer.RunID))
	return nil
}

// emitAnswer prints the answer and, when outFile is set, exports its rows.
func emitAnswer(w io.Writer, answer *assistant.Answer, format export.Format, outFile string) error {
	if format == export.FormatJSON {
		if err := export.JSON(w, answer); err != nil {
			return err
		}
	} else {
		printAnswer(w, answer, format)
	}

	if outFile == "" {
		return nil
	}
	if err := export.ToFile(outFile, export.FormatFromPath(outFile), answer.Rows); err != nil {
		return err
	}
	fmt.Fprintf(w, "Results written to: %s\n", outFile)
	return nil
}

func printAnswer(w io.Writer, answer *assistant.Answer, format export.Format) {
	if answer.Generation != nil && answer.Generation.Explanation != "" {
		fmt.Fprintf(w, "%s\n\n", answer.Generation.Explanation)
	}
	export.ResultSummary(w, answer.Validation)
	fmt.Fprintf(w, "\nExecuted:\n%s\n\n", answer.Executed)
	if format == export.FormatJSON {
		format = export.FormatTable
	}
	if err := export.Render(w, format, answer.Rows); err != nil {
		logger.Warn("Failed to render rows", zap.Error(err))
	}
	fmt.Fprintf(w, "Estimated total rows: %s\n", answer.RowCount)
	if answer.Attempts > 1 {
		fmt.Fprintf(w, "Generation attempts: %d\n", answer.Attempts)
	}
}

// reportRejection prints the guardrail findings of a rejected query and
// passes err through for the exit status.
func reportRejection(w io.Writer, err error) error {
	var rejected *assistant.ErrRejected
	if errors.As(err, &rejected) {
		if rejected.Result.OriginalText != "" {
			fmt.Fprintf(w, "Candidate SQL:\n%s\n\n", rejected.Result.OriginalText)
		}
		export.IssuesTable(w, rejected.Result.Issues)
	}
	return err
}

func init() {
	askCmd.Flags().StringVarP(&askFile, "file", "f", "", "Read the question from a file ('-' for stdin)")
	askCmd.Flags().BoolVar(&askFull, "full", false, "Run the full bounded query instead of a preview")
	askCmd.Flags().BoolVarP(&askYes, "yes", "y", false, "Do not ask for confirmation before running the full query")
	askCmd.Flags().StringVar(&askFormat, "format", string(export.FormatTable), "Output format (table, csv, markdown, html, json)")
	askCmd.Flags().StringVarP(&askOut, "out", "o", "", "File path to export the result rows to (format from extension)")
}
