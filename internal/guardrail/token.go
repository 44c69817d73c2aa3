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

import "strings"

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenWord        TokenKind = iota // identifier or keyword
	TokenQuotedIdent                  // "x", [x] or `x`
	TokenString                       // 'x', E'x', $$x$$
	TokenNumber
	TokenVariable // @x, @@x, $1
	TokenComment  // -- x, # x or /* x */
	TokenSemicolon
	TokenLParen
	TokenRParen
	TokenComma
	TokenDot
	TokenStar
	TokenOperator
	TokenOther
)

// Token is a lexical token of candidate SQL text. Pos and End are byte
// offsets into the tokenized text. Depth is the parenthesis nesting level the
// token sits at; a parenthesis shares the depth of the tokens around it.
type Token struct {
	Kind         TokenKind
	Text         string
	Pos          int
	End          int
	Depth        int
	Unterminated bool
}

// Is reports whether the token is the given keyword, ignoring case.
func (t Token) Is(keyword string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, keyword)
}

// Upper returns the token text in upper case.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// IsIdent reports whether the token can name an object.
func (t Token) IsIdent() bool {
	return t.Kind == TokenWord || t.Kind == TokenQuotedIdent
}

// Tokenize splits SQL Server text into tokens.
func Tokenize(text string) []Token {
	return TokenizeDialect(text, DialectSQLServer)
}

// TokenizeDialect splits text into tokens using the quoting and comment
// rules of d. It is the only place that decides what is inside a string
// literal, a quoted identifier or a comment; every check works on its output
// so they all agree on those boundaries.
//
// MySQL strings, single or double quoted, take backslash escapes and # starts
// a line comment. Postgres adds E'' strings with backslash escapes and
// dollar-quoted strings; its plain strings follow standard_conforming_strings.
func TokenizeDialect(text string, d Dialect) []Token {
	l := &lexer{input: text, dialect: d}
	var tokens []Token
	for {
		tok, ok := l.next()
		if !ok {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}

type lexer struct {
	input   string
	dialect Dialect
	pos     int
	depth   int
}

func (l *lexer) peek(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *lexer) next() (Token, bool) {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{}, false
	}

	start := l.pos
	ch := l.input[l.pos]
	tok := Token{Pos: start, Depth: l.depth}

	switch {
	case ch == '-' && l.peek(1) == '-',
		ch == '#' && l.dialect == DialectMySQL:
		tok.Kind = TokenComment
		for l.pos < len(l.input) && l.input[l.pos] != '\n' {
			l.pos++
		}
	case ch == '/' && l.peek(1) == '*':
		tok.Kind = TokenComment
		end := strings.Index(l.input[l.pos+2:], "*/")
		if end < 0 {
			tok.Unterminated = true
			l.pos = len(l.input)
		} else {
			l.pos += 2 + end + 2
		}
	case ch == '\'':
		tok.Kind = TokenString
		tok.Unterminated = !l.readQuoted('\'', l.dialect == DialectMySQL)
	case (ch == 'E' || ch == 'e') && l.peek(1) == '\'' && l.dialect == DialectPostgres:
		tok.Kind = TokenString
		l.pos++
		tok.Unterminated = !l.readQuoted('\'', true)
	case ch == '$' && l.dialect == DialectPostgres:
		if n := l.dollarTag(); n > 0 {
			tok.Kind = TokenString
			tok.Unterminated = !l.readDollarQuoted(n)
			break
		}
		tok.Kind = TokenVariable
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	case ch == '"' && l.dialect == DialectMySQL:
		tok.Kind = TokenString
		tok.Unterminated = !l.readQuoted('"', true)
	case ch == '"':
		tok.Kind = TokenQuotedIdent
		tok.Unterminated = !l.readQuoted('"', false)
	case ch == '`':
		tok.Kind = TokenQuotedIdent
		tok.Unterminated = !l.readQuoted('`', false)
	case ch == '[':
		tok.Kind = TokenQuotedIdent
		tok.Unterminated = !l.readQuoted(']', false)
	case ch == '@':
		tok.Kind = TokenVariable
		l.pos++
		for l.pos < len(l.input) && (l.input[l.pos] == '@' || isIdentChar(l.input[l.pos])) {
			l.pos++
		}
	case isIdentStart(ch):
		tok.Kind = TokenWord
		for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
			l.pos++
		}
	case isDigit(ch) || (ch == '.' && isDigit(l.peek(1))):
		tok.Kind = TokenNumber
		l.readNumber()
	case ch == ';':
		tok.Kind = TokenSemicolon
		l.pos++
	case ch == '(':
		tok.Kind = TokenLParen
		l.depth++
		l.pos++
	case ch == ')':
		tok.Kind = TokenRParen
		if l.depth > 0 {
			l.depth--
		}
		tok.Depth = l.depth
		l.pos++
	case ch == ',':
		tok.Kind = TokenComma
		l.pos++
	case ch == '.':
		tok.Kind = TokenDot
		l.pos++
	case ch == '*':
		tok.Kind = TokenStar
		l.pos++
	case strings.IndexByte("=<>!+-/%|&^~:", ch) >= 0:
		tok.Kind = TokenOperator
		l.pos++
	default:
		tok.Kind = TokenOther
		l.pos++
	}

	tok.End = l.pos
	tok.Text = l.input[start:l.pos]
	return tok, true
}

// readQuoted consumes a quoted run starting at the opening character. A
// doubled closing character is an escaped literal character, and so is any
// character after a backslash when backslash is set. It reports whether the
// closing character was found.
func (l *lexer) readQuoted(closer byte, backslash bool) bool {
	l.pos++
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case '\\':
			if backslash {
				l.pos += 2
				continue
			}
		case closer:
			if l.peek(1) == closer {
				l.pos += 2
				continue
			}
			l.pos++
			return true
		}
		l.pos++
	}
	l.pos = len(l.input)
	return false
}

// dollarTag returns the length of the $tag$ delimiter at the current
// position, or 0 when there is none. $1 is a parameter, not a tag.
func (l *lexer) dollarTag() int {
	i := l.pos + 1
	if i < len(l.input) && isTagStart(l.input[i]) {
		for i < len(l.input) && (isTagStart(l.input[i]) || isDigit(l.input[i])) {
			i++
		}
	}
	if i < len(l.input) && l.input[i] == '$' {
		return i - l.pos + 1
	}
	return 0
}

// readDollarQuoted consumes a dollar-quoted string whose opening delimiter
// is n bytes long. Nothing inside is escaped.
func (l *lexer) readDollarQuoted(n int) bool {
	delim := l.input[l.pos : l.pos+n]
	l.pos += n
	end := strings.Index(l.input[l.pos:], delim)
	if end < 0 {
		l.pos = len(l.input)
		return false
	}
	l.pos += end + n
	return true
}

func (l *lexer) readNumber() {
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	if l.peek(0) == '.' {
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	if c := l.peek(0); c == 'e' || c == 'E' {
		n := 1
		if s := l.peek(1); s == '+' || s == '-' {
			n = 2
		}
		if isDigit(l.peek(n)) {
			l.pos += n
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
		}
	}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch == '#' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch >= 0x80
}

func isTagStart(ch byte) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch >= 0x80
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}
