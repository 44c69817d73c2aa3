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
// Package guardrail decides whether untrusted SQL text may run. It accepts
// only a single read-only statement against known objects, bounds the rows
// it can return, and derives preview and count-probe variants of approved
// text. Every check works on the token stream produced by TokenizeDialect.
package guardrail

import (
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

const (
	DefaultRowLimit        = 1000
	DefaultPreviewRowLimit = 50
)

// Dialect selects how row bounds are written.
type Dialect string

const (
	DialectSQLServer Dialect = "sqlserver"
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
)

// ParseDialect maps a database dialect name, including the Cloud SQL
// variants, to a guardrail Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlserver", "cloudsqlsqlserver", "mssql":
		return DialectSQLServer, nil
	case "postgres", "postgresql", "cloudsqlpostgres":
		return DialectPostgres, nil
	case "mysql", "cloudsqlmysql":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", name)
	}
}

func (d Dialect) usesLimit() bool {
	return d == DialectPostgres || d == DialectMySQL
}

// Options configures a Validator.
type Options struct {
	DefaultRowLimit int
	Dialect         Dialect
}

// Validator holds the limits and dialect used for every call. It keeps no
// state between calls and is safe for concurrent use.
type Validator struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Validator. A nil logger disables logging.
func New(opts Options, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultRowLimit <= 0 {
		opts.DefaultRowLimit = DefaultRowLimit
	}
	if opts.Dialect == "" {
		opts.Dialect = DialectSQLServer
	}
	return &Validator{opts: opts, logger: logger.Named("guardrail")}
}

// Dialect returns the bound dialect of the validator.
func (v *Validator) Dialect() Dialect {
	return v.opts.Dialect
}

// Validate checks candidate SQL against the SQL Server rules. A nil catalog
// skips the object existence check.
func Validate(candidate string, catalog *schema.Catalog, defaultRowLimit int) Result {
	return New(Options{DefaultRowLimit: defaultRowLimit}, nil).Validate(candidate, catalog)
}

// Validate runs the checks in order. Policy and schema errors stop further
// checks; the returned text is then the candidate unchanged.
func (v *Validator) Validate(candidate string, catalog *schema.Catalog) Result {
	if strings.TrimSpace(candidate) == "" {
		return newResult(candidate, candidate, []Issue{{
			Severity: SeverityError,
			Category: CategoryInput,
			Message:  "query text is empty",
		}})
	}

	stmt := parseStatement(candidate, v.opts.Dialect)

	for _, check := range []func(*statement) []Issue{
		checkReadOnly,
		checkForbiddenTokens,
		checkSingleStatement,
	} {
		if issues := check(stmt); len(issues) > 0 {
			v.reject(candidate, issues)
			return newResult(candidate, candidate, issues)
		}
	}

	if catalog != nil {
		if issues := checkReferences(stmt, catalog); len(issues) > 0 {
			v.reject(candidate, issues)
			return newResult(candidate, candidate, issues)
		}
	}

	var issues []Issue
	rewritten := candidate
	b, bounded := stmt.findBound(v.opts.Dialect)
	if !bounded || b.unbounded {
		if bounded {
			rewritten = b.replace(candidate, v.opts.DefaultRowLimit)
		} else {
			rewritten = stmt.insertBound(v.opts.Dialect, v.opts.DefaultRowLimit)
		}
		issues = append(issues, Issue{
			Severity: SeverityInfo,
			Category: CategoryBound,
			Message:  fmt.Sprintf("row limit of %d injected", v.opts.DefaultRowLimit),
		})
		v.logger.Debug("Injected row bound",
			zap.Int("limit", v.opts.DefaultRowLimit),
			zap.String("dialect", string(v.opts.Dialect)))
	}

	issues = append(issues, advise(stmt, b, bounded && !b.unbounded)...)
	return newResult(candidate, rewritten, issues)
}

func (v *Validator) reject(candidate string, issues []Issue) {
	v.logger.Info("Rejected candidate SQL",
		zap.Int("issues", len(issues)),
		zap.String("first_issue", issues[0].Message),
		zap.Int("length", len(candidate)))
}

func policyError(msg, suggestion string) Issue {
	return Issue{Severity: SeverityError, Category: CategoryPolicy, Message: msg, Suggestion: suggestion}
}

// checkReadOnly requires the first token to be a read keyword. A leading
// comment counts as the first token.
func checkReadOnly(s *statement) []Issue {
	first := s.all[0]
	for _, kw := range readKeywords {
		if first.Is(kw) {
			return nil
		}
	}
	found := first.Text
	if first.Kind == TokenComment {
		found = commentMarker(first)
	}
	return []Issue{policyError(
		fmt.Sprintf("only read-only queries are allowed; statement starts with '%s'", found),
		"start the query with SELECT or WITH")}
}

// checkForbiddenTokens reports every forbidden word and comment marker, in
// order of appearance. Repeats are reported again at their own offset.
func checkForbiddenTokens(s *statement) []Issue {
	var issues []Issue
	report := func(token string, offset int, reason string) {
		issues = append(issues, policyError(
			fmt.Sprintf("forbidden token '%s' at offset %d (%s)", token, offset, reason), ""))
	}

	for i, t := range s.all {
		switch t.Kind {
		case TokenWord:
			if reason, ok := forbiddenReason(t); ok {
				report(t.Upper(), t.Pos, reason)
			}
		case TokenComment:
			marker := commentMarker(t)
			report(marker, t.Pos, "comment")
			if marker == "/*" && !t.Unterminated {
				report("*/", t.End-2, "comment")
			}
		case TokenStar:
			if i+1 < len(s.all) {
				next := s.all[i+1]
				if next.Kind == TokenOperator && next.Text == "/" && next.Pos == t.End {
					report("*/", t.Pos, "comment")
				}
			}
		}
	}
	return issues
}

// commentMarker returns the text that opens a comment token.
func commentMarker(t Token) string {
	switch {
	case strings.HasPrefix(t.Text, "--"):
		return "--"
	case strings.HasPrefix(t.Text, "#"):
		return "#"
	default:
		return "/*"
	}
}

// checkSingleStatement rejects more than one statement and unterminated
// quoted text.
func checkSingleStatement(s *statement) []Issue {
	for _, t := range s.all {
		if t.Unterminated && (t.Kind == TokenString || t.Kind == TokenQuotedIdent) {
			return []Issue{policyError(
				fmt.Sprintf("unterminated quoted text starting at offset %d", t.Pos),
				"close every string literal and quoted identifier")}
		}
	}

	statements, inStatement := 0, false
	for _, t := range s.code {
		if t.Kind == TokenSemicolon {
			inStatement = false
			continue
		}
		if !inStatement {
			statements++
			inStatement = true
		}
	}
	if statements > 1 {
		return []Issue{policyError(
			fmt.Sprintf("multiple statements are not allowed (found %d)", statements),
			"submit a single SELECT statement")}
	}

	if s.main < 0 {
		return []Issue{policyError("no top-level SELECT found", "end a WITH clause with a SELECT")}
	}
	if extra := s.extraSelects(); len(extra) > 0 {
		return []Issue{policyError(
			fmt.Sprintf("multiple statements are not allowed (second SELECT at offset %d)", extra[0].Pos),
			"combine results with UNION or a subquery")}
	}
	return nil
}

// checkReferences resolves every table source against the catalog.
func checkReferences(s *statement, catalog *schema.Catalog) []Issue {
	var issues []Issue
	for _, name := range s.references() {
		if _, ok := catalog.Resolve(name); ok {
			continue
		}
		issue := Issue{
			Severity: SeverityError,
			Category: CategorySchema,
			Message:  fmt.Sprintf("unknown object '%s'", name),
		}
		if similar := catalog.SuggestSimilar(name); len(similar) > 0 {
			issue.Suggestion = "did you mean " + strings.Join(similar, ", ") + "?"
		}
		issues = append(issues, issue)
	}
	return issues
}

// advise adds the non-blocking hints. The missing filter hint is only given
// when the query had no bound of its own.
func advise(s *statement, b bound, bounded bool) []Issue {
	var issues []Issue
	warn := func(msg, suggestion string) {
		issues = append(issues, Issue{
			Severity:   SeverityWarning,
			Category:   CategoryAdvisory,
			Message:    msg,
			Suggestion: suggestion,
		})
	}

	if !bounded && !s.hasFilter() {
		warn("no filter clause; the query scans whole tables", "add a WHERE clause")
	}
	if len(s.projectionStars()) > 0 {
		warn("unrestricted projection (SELECT *)", "list the columns you need")
	}
	if bounded && b.percent {
		warn("TOP ... PERCENT does not cap the number of rows", "use TOP n")
	}
	for _, t := range s.all {
		if t.Kind != TokenString {
			continue
		}
		if isSQLi, fingerprint := libinjection.IsSQLi(literalValue(t.Text)); isSQLi {
			warn(fmt.Sprintf("string literal at offset %d looks like SQL injection (fingerprint %s)", t.Pos, string(fingerprint)),
				"check the literal value")
		}
	}
	return issues
}

// literalValue returns the content of a string token: quoted, E-prefixed
// or dollar-quoted.
func literalValue(text string) string {
	if strings.HasPrefix(text, "$") {
		if i := strings.IndexByte(text[1:], '$'); i >= 0 {
			tag := text[:i+2]
			return strings.TrimSuffix(strings.TrimPrefix(text, tag), tag)
		}
	}
	if strings.HasPrefix(text, "E'") || strings.HasPrefix(text, "e'") {
		text = text[1:]
	}
	quote := "'"
	if strings.HasPrefix(text, `"`) {
		quote = `"`
	}
	text = strings.TrimPrefix(text, quote)
	text = strings.TrimSuffix(text, quote)
	return strings.ReplaceAll(text, quote+quote, quote)
}
