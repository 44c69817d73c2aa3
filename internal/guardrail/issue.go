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
package guardrail

import (
	"fmt"
	"strings"
)

// Severity is the closed set of issue severities.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity converts a string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "info":
		return SeverityInfo, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Category says which check produced an issue.
type Category int

const (
	CategoryInput Category = iota
	CategoryPolicy
	CategorySchema
	CategoryBound
	CategoryAdvisory
)

var categoryNames = map[Category]string{
	CategoryInput:    "input",
	CategoryPolicy:   "policy",
	CategorySchema:   "schema",
	CategoryBound:    "bound",
	CategoryAdvisory: "advisory",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

func (c Category) MarshalText() ([]byte, error) {
	name, ok := categoryNames[c]
	if !ok {
		return nil, fmt.Errorf("invalid category %d", int(c))
	}
	return []byte(name), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	for cat, name := range categoryNames {
		if strings.EqualFold(name, string(text)) {
			*c = cat
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", string(text))
}

// Issue is a single finding about candidate SQL.
type Issue struct {
	Severity   Severity `json:"severity"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (i Issue) String() string {
	if i.Suggestion == "" {
		return fmt.Sprintf("%s: %s", strings.ToUpper(i.Severity.String()), i.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", strings.ToUpper(i.Severity.String()), i.Message, i.Suggestion)
}

// Result is the outcome of validating one candidate. Issues are in detection
// order. RewrittenText is always set and equals OriginalText unless a row
// bound was injected.
type Result struct {
	Valid         bool    `json:"valid"`
	Issues        []Issue `json:"issues"`
	OriginalText  string  `json:"original_text"`
	RewrittenText string  `json:"rewritten_text"`
}

// Rewritten reports whether the validator changed the candidate text.
func (r Result) Rewritten() bool {
	return r.RewrittenText != r.OriginalText
}

func (r Result) Errors() []Issue   { return r.filter(SeverityError) }
func (r Result) Warnings() []Issue { return r.filter(SeverityWarning) }
func (r Result) Infos() []Issue    { return r.filter(SeverityInfo) }

// HasErrors reports whether any issue is an Error.
func (r Result) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Messages returns the messages of all Error issues, one per line of
// feedback for a new generation attempt.
func (r Result) Messages() []string {
	errs := r.Errors()
	out := make([]string, 0, len(errs))
	for _, issue := range errs {
		out = append(out, issue.String())
	}
	return out
}

func (r Result) filter(sev Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

// newResult assembles a Result and keeps Valid consistent with the issues.
func newResult(original, rewritten string, issues []Issue) Result {
	if issues == nil {
		issues = []Issue{}
	}
	r := Result{
		Issues:        issues,
		OriginalText:  original,
		RewrittenText: rewritten,
	}
	r.Valid = !r.HasErrors()
	return r
}
