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
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// RowCountEstimate is a row count, or UnknownRowCount when it could not be
// determined.
type RowCountEstimate int64

const UnknownRowCount RowCountEstimate = -1

// Known reports whether the estimate holds a count.
func (e RowCountEstimate) Known() bool {
	return e >= 0
}

func (e RowCountEstimate) String() string {
	if !e.Known() {
		return "unknown"
	}
	return strconv.FormatInt(int64(e), 10)
}

// CountProbe is the counting variant of an approved query. When OK is false
// no probe could be built and SQL is empty.
type CountProbe struct {
	SQL string
	OK  bool
}

// ToCountProbe builds a count probe using SQL Server rules.
func ToCountProbe(approved string) CountProbe {
	return New(Options{}, nil).ToCountProbe(approved)
}

// ToCountProbe replaces the outermost projection, including any TOP, with
// COUNT(*) and drops the outermost ORDER BY and whatever follows it. Only
// the outermost level is rewritten. Queries whose row count is not the
// COUNT(*) of their FROM clause (DISTINCT, GROUP BY, set operators,
// aggregates) yield no probe.
func (v *Validator) ToCountProbe(approved string) CountProbe {
	stmt := parseStatement(approved, v.opts.Dialect)
	probe, reason := stmt.countProbe()
	if reason != "" {
		v.logger.Debug("No count probe", zap.String("reason", reason))
		return CountProbe{}
	}
	return CountProbe{SQL: probe, OK: true}
}

func (s *statement) countProbe() (string, string) {
	if s.main < 0 {
		return "", "no top-level SELECT"
	}
	if s.at(s.main + 1).Is("DISTINCT") {
		return "", "DISTINCT projection"
	}
	from := s.from()
	if from < 0 {
		return "", "no top-level FROM"
	}
	if s.topLevel("UNION", "INTERSECT", "EXCEPT", "MINUS") >= 0 {
		return "", "set operator"
	}
	if s.topLevel("GROUP", "HAVING") >= 0 {
		return "", "grouped query"
	}
	if s.aggregated(from) {
		return "", "aggregate projection"
	}

	cut := s.end()
	if i := s.topLevel("ORDER", "OFFSET", "FETCH", "LIMIT", "FOR", "OPTION"); i >= 0 {
		cut = i
	}
	cutPos := len(s.text)
	if cut < len(s.code) {
		cutPos = s.code[cut].Pos
	}

	body := strings.TrimRightFunc(s.text[s.code[from].Pos:cutPos], unicode.IsSpace)
	return s.text[:s.code[s.main].End] + " COUNT(*) " + body, ""
}

// aggregated reports whether the projection before from calls an aggregate
// function outside a window.
func (s *statement) aggregated(from int) bool {
	for i := s.main + 1; i < from; i++ {
		t := s.code[i]
		if t.Depth != 0 || t.Kind != TokenWord || !aggregateFuncs[t.Upper()] {
			continue
		}
		if s.at(i+1).Kind != TokenLParen {
			continue
		}
		if !s.at(s.closing(i + 1) + 1).Is("OVER") {
			return true
		}
	}
	return false
}
