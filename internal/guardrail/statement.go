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

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

const tokenEOF TokenKind = -1

// statement is a tokenized candidate. code holds every token except
// comments; main is the index in code of the outermost SELECT, or -1.
type statement struct {
	text string
	all  []Token
	code []Token
	main int
}

func parseStatement(text string, d Dialect) *statement {
	all := TokenizeDialect(text, d)
	code := make([]Token, 0, len(all))
	for _, t := range all {
		if t.Kind != TokenComment {
			code = append(code, t)
		}
	}
	s := &statement{text: text, all: all, code: code, main: -1}
	for i, t := range code {
		if t.Depth == 0 && t.Is("SELECT") {
			s.main = i
			break
		}
	}
	return s
}

// at returns the code token at i, or an EOF token past either end.
func (s *statement) at(i int) Token {
	if i < 0 || i >= len(s.code) {
		return Token{Kind: tokenEOF, Pos: len(s.text), End: len(s.text), Depth: -1}
	}
	return s.code[i]
}

// closing returns the index of the parenthesis closing the one at i.
func (s *statement) closing(i int) int {
	depth := s.code[i].Depth
	for k := i + 1; k < len(s.code); k++ {
		if s.code[k].Kind == TokenRParen && s.code[k].Depth == depth {
			return k
		}
	}
	return len(s.code)
}

// end returns the index of the first top-level semicolon, or len(code).
func (s *statement) end() int {
	for i, t := range s.code {
		if t.Kind == TokenSemicolon && t.Depth == 0 {
			return i
		}
	}
	return len(s.code)
}

// afterSelect returns the index of the first token after the main SELECT
// and its DISTINCT or ALL modifier.
func (s *statement) afterSelect() int {
	i := s.main + 1
	if t := s.at(i); t.Is("DISTINCT") || t.Is("ALL") {
		i++
	}
	return i
}

// from returns the index of the top-level FROM of the main SELECT, or -1.
func (s *statement) from() int {
	if s.main < 0 {
		return -1
	}
	for i := s.main + 1; i < s.end(); i++ {
		if t := s.code[i]; t.Depth == 0 && t.Is("FROM") {
			return i
		}
	}
	return -1
}

// topLevel returns the index of the first depth-0 keyword after the main
// SELECT and before the statement end, or -1.
func (s *statement) topLevel(keywords ...string) int {
	if s.main < 0 {
		return -1
	}
	for i := s.main + 1; i < s.end(); i++ {
		t := s.code[i]
		if t.Depth != 0 {
			continue
		}
		for _, kw := range keywords {
			if t.Is(kw) {
				return i
			}
		}
	}
	return -1
}

// clauseFrom reports whether the FROM at i introduces a table source rather
// than being part of a function argument such as EXTRACT(YEAR FROM d).
func (s *statement) clauseFrom(i int) bool {
	depth := s.code[i].Depth
	for k := i - 1; k >= 0; k-- {
		t := s.code[k]
		if t.Depth < depth {
			return false
		}
		if t.Depth == depth && t.Is("SELECT") {
			return true
		}
	}
	return false
}

// extraSelects returns the depth-0 SELECT keywords after the main one that
// are not joined to it by a set operator. T-SQL runs such text as separate
// statements even without a semicolon.
func (s *statement) extraSelects() []Token {
	if s.main < 0 {
		return nil
	}
	var out []Token
	for i := s.main + 1; i < s.end(); i++ {
		t := s.code[i]
		if t.Depth != 0 || !t.Is("SELECT") {
			continue
		}
		prev := s.at(i - 1)
		if prev.Is("ALL") || prev.Is("DISTINCT") {
			prev = s.at(i - 2)
		}
		if isSetOperator(prev) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// lastSetOperator returns the index of the last depth-0 set operator after
// the main SELECT, or -1. Clauses after it apply to the combined result.
func (s *statement) lastSetOperator() int {
	if s.main < 0 {
		return -1
	}
	last := -1
	for i := s.main + 1; i < s.end(); i++ {
		if t := s.code[i]; t.Depth == 0 && isSetOperator(t) {
			last = i
		}
	}
	return last
}

func isSetOperator(t Token) bool {
	return t.Is("UNION") || t.Is("INTERSECT") || t.Is("EXCEPT") || t.Is("MINUS")
}

type boundKind int

const (
	boundTop boundKind = iota + 1
	boundFetch
	boundLimit
)

func (k boundKind) String() string {
	switch k {
	case boundTop:
		return "TOP"
	case boundFetch:
		return "FETCH"
	case boundLimit:
		return "LIMIT"
	default:
		return "unknown"
	}
}

// bound is a row-limiting clause found in the main statement. start and
// end delimit the argument that a preview replaces. An unbounded bound, such
// as LIMIT ALL, limits nothing. An insert bound has no argument of its own
// (FETCH FIRST ROW ONLY) and start == end marks where one goes.
type bound struct {
	kind      boundKind
	start     int
	end       int
	paren     bool
	percent   bool
	unbounded bool
	insert    bool
	value     int64
}

// replace rewrites the bound argument to n.
func (b bound) replace(text string, n int) string {
	arg := strconv.Itoa(n)
	if b.paren {
		arg = "(" + arg + ")"
	}
	if b.insert {
		arg = " " + arg
	}
	return text[:b.start] + arg + text[b.end:]
}

// argument reads a bound argument at i: a number or a parenthesised
// expression. It returns the index after the argument.
func (s *statement) argument(i int) (bound, int, bool) {
	t := s.at(i)
	switch t.Kind {
	case TokenNumber:
		return bound{start: t.Pos, end: t.End, value: parseCount(t.Text)}, i + 1, true
	case TokenLParen:
		c := s.closing(i)
		if c >= len(s.code) {
			return bound{}, i, false
		}
		b := bound{start: t.Pos, end: s.code[c].End, paren: true, value: -1}
		if c == i+2 && s.code[i+1].Kind == TokenNumber {
			b.value = parseCount(s.code[i+1].Text)
		}
		return b, c + 1, true
	default:
		return bound{}, i, false
	}
}

func parseCount(text string) int64 {
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// findBound locates the row bound of the main statement for the dialect.
// With set operators only a clause after the last one bounds the combined
// result; a TOP in the first branch bounds that branch alone.
func (s *statement) findBound(d Dialect) (bound, bool) {
	if s.main < 0 {
		return bound{}, false
	}
	start := s.main + 1
	if op := s.lastSetOperator(); op >= 0 {
		start = op + 1
	} else if !d.usesLimit() {
		i := s.afterSelect()
		if s.at(i).Is("TOP") {
			if b, next, ok := s.argument(i + 1); ok {
				b.kind = boundTop
				if p := s.at(next); p.Is("PERCENT") {
					b.percent = true
					b.end = p.End
				}
				return b, true
			}
		}
	}
	for i := start; i < s.end(); i++ {
		t := s.code[i]
		if t.Depth != 0 {
			continue
		}
		switch {
		case t.Is("FETCH") && (s.at(i+1).Is("FIRST") || s.at(i+1).Is("NEXT")):
			if b, _, ok := s.argument(i + 2); ok {
				b.kind = boundFetch
				return b, true
			}
			if rows := s.at(i + 2); rows.Is("ROW") || rows.Is("ROWS") {
				pos := s.at(i + 1).End
				return bound{kind: boundFetch, start: pos, end: pos, insert: true, value: 1}, true
			}
		case t.Is("LIMIT") && d.usesLimit():
			if next := s.at(i + 1); next.Is("ALL") || next.Is("NULL") {
				return bound{kind: boundLimit, start: next.Pos, end: next.End, unbounded: true, value: -1}, true
			}
			if s.at(i+1).Kind != TokenNumber {
				continue
			}
			arg := i + 1
			if s.at(i+2).Kind == TokenComma && s.at(i+3).Kind == TokenNumber {
				arg = i + 3
			}
			b, _, _ := s.argument(arg)
			b.kind = boundLimit
			return b, true
		}
	}
	return bound{}, false
}

// insertBound returns the text with a new bound of n rows. TOP goes after
// the main SELECT and its modifier, or on a wrapping SELECT when set
// operators combine several branches; LIMIT goes after the last token of the
// statement, ahead of any semicolon or trailing comment.
func (s *statement) insertBound(d Dialect, n int) string {
	if d.usesLimit() {
		last := s.end() - 1
		if last < 0 {
			return s.text
		}
		pos := s.code[last].End
		return s.text[:pos] + " LIMIT " + strconv.Itoa(n) + s.text[pos:]
	}
	if s.main < 0 {
		return s.text
	}
	if op := s.lastSetOperator(); op >= 0 {
		return s.wrapBound(op, n)
	}
	pos := s.at(s.afterSelect() - 1).End
	return s.text[:pos] + " TOP " + strconv.Itoa(n) + s.text[pos:]
}

// wrapBound bounds a set-operator query by selecting TOP n from it as a
// derived table. ORDER BY, OPTION and FOR XML or JSON clauses after the last
// branch stay outside the wrapper.
func (s *statement) wrapBound(op, n int) string {
	stop := s.end()
	for i := op + 1; i < stop; i++ {
		t := s.code[i]
		if t.Depth != 0 {
			continue
		}
		if t.Is("ORDER") || t.Is("OPTION") || (t.Is("FOR") && (s.at(i+1).Is("XML") || s.at(i+1).Is("JSON") || s.at(i+1).Is("BROWSE"))) {
			stop = i
			break
		}
	}
	start := s.code[s.main].Pos
	end := s.code[stop-1].End
	return s.text[:start] + "SELECT TOP " + strconv.Itoa(n) + " * FROM (" +
		s.text[start:end] + ") AS q" + s.text[end:]
}

// cteNames returns the lower-cased names defined by a leading WITH.
func (s *statement) cteNames() map[string]bool {
	names := map[string]bool{}
	if len(s.code) == 0 || !s.code[0].Is("WITH") {
		return names
	}
	limit := s.main
	if limit < 0 {
		limit = len(s.code)
	}
	prev := s.code[0]
	for i := 1; i < limit; i++ {
		t := s.code[i]
		if t.Depth != 0 {
			continue
		}
		if t.IsIdent() && !t.Is("RECURSIVE") &&
			(prev.Is("WITH") || prev.Is("RECURSIVE") || prev.Kind == TokenComma) {
			if parts := schema.SplitQualifiedName(t.Text); len(parts) == 1 {
				names[strings.ToLower(parts[0])] = true
			}
		}
		prev = t
	}
	return names
}

// references returns the distinct object names the statement reads from,
// as written, in order of first appearance. Names defined by a leading WITH
// and table variables are not references.
func (s *statement) references() []string {
	ctes := s.cteNames()
	seen := map[string]bool{}
	var names []string

	for i, t := range s.code {
		isSource := (t.Is("FROM") && s.clauseFrom(i)) || t.Is("JOIN") || t.Is("APPLY")
		if !isSource {
			continue
		}
		j := i + 1
		for {
			for s.at(j).Is("LATERAL") || s.at(j).Is("ONLY") {
				j++
			}
			tok := s.at(j)
			var next int
			switch {
			case tok.Kind == TokenLParen:
				next = s.closing(j) + 1
			case tok.Kind == TokenVariable:
				next = j + 1
			case tok.IsIdent() && !isReserved(tok):
				last := s.chain(j)
				name := s.text[tok.Pos:s.code[last].End]
				next = last + 1
				if s.at(next).Kind == TokenLParen {
					next = s.closing(next) + 1
				}
				parts := schema.SplitQualifiedName(name)
				key := strings.ToLower(strings.Join(parts, "."))
				if len(parts) == 0 || (len(parts) == 1 && ctes[key]) || seen[key] {
					break
				}
				seen[key] = true
				names = append(names, name)
			default:
				next = -1
			}
			if next < 0 {
				break
			}
			j = s.skipAlias(next)
			if c := s.at(j); c.Kind != TokenComma || c.Depth != t.Depth {
				break
			}
			j++
		}
	}
	return names
}

// chain returns the index of the last token of the dotted name starting at
// i. Empty parts, as in db..table, are allowed.
func (s *statement) chain(i int) int {
	last := i
	for s.at(last+1).Kind == TokenDot {
		k := last + 1
		for s.at(k+1).Kind == TokenDot {
			k++
		}
		if !s.at(k + 1).IsIdent() {
			break
		}
		last = k + 1
	}
	return last
}

// skipAlias skips an optional alias, column alias list and table hints
// after a table source starting at i.
func (s *statement) skipAlias(i int) int {
	aliased := false
	if s.at(i).Is("AS") {
		i++
		if s.at(i).IsIdent() {
			i++
			aliased = true
		}
	} else if t := s.at(i); t.IsIdent() && !isReserved(t) {
		i++
		aliased = true
	}
	if aliased && s.at(i).Kind == TokenLParen {
		i = s.closing(i) + 1
	}
	if s.at(i).Is("WITH") && s.at(i+1).Kind == TokenLParen {
		i = s.closing(i+1) + 1
	}
	return i
}

// projectionStars returns the depth-0 * items of the main projection,
// bare or qualified.
func (s *statement) projectionStars() []Token {
	if s.main < 0 {
		return nil
	}
	stop := s.from()
	if stop < 0 {
		stop = s.end()
	}
	var out []Token
	for i := s.main + 1; i < stop; i++ {
		t := s.code[i]
		if t.Kind != TokenStar || t.Depth != 0 {
			continue
		}
		switch next := s.at(i + 1); {
		case next.Kind == TokenComma, next.Kind == TokenSemicolon, next.Kind == tokenEOF,
			next.Is("FROM"), next.Is("INTO"):
			out = append(out, t)
		}
	}
	return out
}

// hasFilter reports whether any WHERE or HAVING clause is present.
func (s *statement) hasFilter() bool {
	for _, t := range s.code {
		if t.Is("WHERE") || t.Is("HAVING") {
			return true
		}
	}
	return false
}
