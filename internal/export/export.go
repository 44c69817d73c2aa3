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
// Package export renders query results and guardrail verdicts for the
// terminal and for files.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/database"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/history"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

// Formats lists the supported output formats.
var Formats = []Format{FormatTable, FormatCSV, FormatMarkdown, FormatHTML, FormatJSON}

// ParseFormat accepts a format name; "md" is an alias for markdown.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "table":
		return FormatTable, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want one of table, csv, markdown, html, json)", name)
	}
}

// FormatFromPath picks a format from a file extension, defaulting to CSV.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".html", ".htm":
		return FormatHTML
	case ".json":
		return FormatJSON
	case ".txt":
		return FormatTable
	default:
		return FormatCSV
	}
}

// Render writes result to w in the given format.
func Render(w io.Writer, format Format, result *database.QueryResult) error {
	if result == nil {
		result = &database.QueryResult{}
	}
	if format == FormatJSON {
		return renderJSON(w, result)
	}

	t := newTable(w)
	header := make(table.Row, len(result.Columns))
	for i, col := range result.Columns {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, r := range result.Rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}

	switch format {
	case FormatCSV:
		t.RenderCSV()
	case FormatMarkdown:
		t.RenderMarkdown()
	case FormatHTML:
		t.RenderHTML()
	default:
		if len(result.Rows) == 0 {
			_, _ = fmt.Fprintln(w, "(0 rows)")
			return nil
		}
		t.Render()
		_, _ = fmt.Fprintf(w, "(%d rows)\n", len(result.Rows))
	}
	return nil
}

// ToFile writes result to path, creating parent directories.
func ToFile(path string, format Format, result *database.QueryResult) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Render(f, format, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// IssuesTable lists guardrail issues, one per row.
func IssuesTable(w io.Writer, issues []guardrail.Issue) {
	if len(issues) == 0 {
		_, _ = fmt.Fprintln(w, "No issues.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Severity", "Category", "Message", "Suggestion"})
	for _, issue := range issues {
		t.AppendRow(table.Row{strings.ToUpper(issue.Severity.String()), issue.Category.String(), issue.Message, issue.Suggestion})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 80},
		{Number: 4, WidthMax: 50},
	})
	t.Render()
}

// ResultSummary prints the verdict and the approved text.
func ResultSummary(w io.Writer, result guardrail.Result) {
	verdict := text.FgGreen.Sprint("APPROVED")
	if !result.Valid {
		verdict = text.FgRed.Sprint("REJECTED")
	}
	_, _ = fmt.Fprintf(w, "Verdict: %s\n", verdict)
	IssuesTable(w, result.Issues)
	if result.Valid {
		_, _ = fmt.Fprintf(w, "\n%s\n", result.RewrittenText)
	}
}

// HistoryTable lists recorded runs.
func HistoryTable(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs recorded.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "When", "Valid", "Rows", "Question / SQL", "Error"})
	for _, run := range runs {
		subject := run.Question
		if subject == "" {
			subject = run.CandidateSQL
		}
		t.AppendRow(table.Row{
			run.ID,
			run.CreatedAt.Local().Format(time.DateTime),
			run.Valid,
			guardrail.RowCountEstimate(run.RowCount).String(),
			subject,
			run.Error,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: 60}})
	t.Render()
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	t.SetStyle(style)
	return t
}

func renderJSON(w io.Writer, result *database.QueryResult) error {
	rows := make([]map[string]any, 0, len(result.Rows))
	for _, r := range result.Rows {
		row := make(map[string]any, len(result.Columns))
		for i, col := range result.Columns {
			if i < len(r) {
				row[col] = r[i]
			}
		}
		rows = append(rows, row)
	}
	return JSON(w, rows)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
