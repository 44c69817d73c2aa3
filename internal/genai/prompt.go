package genai

import (
	"fmt"
	"strings"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

func dialectName(d guardrail.Dialect) string {
	switch d {
	case guardrail.DialectPostgres:
		return "PostgreSQL"
	case guardrail.DialectMySQL:
		return "MySQL"
	default:
		return "Microsoft SQL Server (T-SQL)"
	}
}

func rowLimitHint(d guardrail.Dialect) string {
	switch d {
	case guardrail.DialectPostgres, guardrail.DialectMySQL:
		return "Use LIMIT to bound the number of rows."
	default:
		return "Use TOP directly after SELECT to bound the number of rows."
	}
}

func systemPrompt(d guardrail.Dialect) string {
	return fmt.Sprintf(`You are an expert %s analyst. You translate business questions into a single read-only query.

**Rules:**
1. Write exactly one SELECT statement. A WITH clause is allowed when it ends in a SELECT.
2. Never modify data or schema. Do not call stored procedures. Do not declare variables.
3. Do not write comments in the SQL.
4. Use only the tables, views and columns listed in the schema. Qualify every object with its schema.
5. %s
6. Prefer explicit column lists over SELECT * and filter with WHERE whenever the question allows it.

**Output format:**
<sql>the query</sql>
<explanation>one or two sentences describing what the query returns</explanation>`, dialectName(d), rowLimitHint(d))
}

func userPrompt(question string, catalog *schema.Catalog, feedback []string) string {
	var b strings.Builder
	b.WriteString("********** Schema **********\n")
	if catalog != nil && catalog.Len() > 0 {
		b.WriteString(catalog.Describe())
	} else {
		b.WriteString("(no schema available)\n")
	}
	b.WriteString("********** End Schema **********\n\n")

	if len(feedback) > 0 {
		b.WriteString("A previous attempt was rejected for these reasons:\n")
		for _, f := range feedback {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
		b.WriteString("Write a new query that avoids every problem listed.\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")
	return b.String()
}

// parseGeneration extracts the query from a model response. Tagged output is
// preferred; a fenced code block is accepted as a fallback.
func parseGeneration(text string) (*Generation, error) {
	gen := &Generation{}
	if explanation, ok := extractContentBetween(text, "<explanation>", "</explanation>"); ok {
		gen.Explanation = explanation
	}

	if sqlText, ok := extractContentBetween(text, "<sql>", "</sql>"); ok {
		gen.SQL = sqlText
	} else if sqlText, ok := extractFenced(text); ok {
		gen.SQL = sqlText
	}
	gen.SQL = stripFence(gen.SQL)
	if gen.SQL == "" {
		return nil, ErrNoSQL
	}
	return gen, nil
}

// extractContentBetween extracts content between start and end tags from a string.
func extractContentBetween(text, startTag, endTag string) (string, bool) {
	startIndex := strings.Index(text, startTag)
	if startIndex == -1 {
		return "", false
	}
	startIndex += len(startTag)
	endIndex := strings.Index(text[startIndex:], endTag)
	if endIndex == -1 {
		return "", false
	}
	return strings.TrimSpace(text[startIndex : startIndex+endIndex]), true
}

// extractFenced returns the body of the first ``` block, preferring one
// labelled sql.
func extractFenced(text string) (string, bool) {
	if body, ok := extractContentBetween(text, "```sql", "```"); ok {
		return body, true
	}
	if body, ok := extractContentBetween(text, "```", "```"); ok {
		return body, true
	}
	return "", false
}

// stripFence removes a code fence the model put inside the tags.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl != -1 && !strings.ContainsAny(s[:nl], " \t") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
