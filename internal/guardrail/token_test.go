package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(tokens []Token) []TokenKind {
	out := make([]TokenKind, len(tokens))
	for i, t := range tokens {
		out[i] = t.Kind
	}
	return out
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []TokenKind
	}{
		{
			name:  "keywords in literals stay literals",
			input: "SELECT 'drop table; -- x' FROM t",
			want:  []TokenKind{TokenWord, TokenString, TokenWord, TokenWord},
		},
		{
			name:  "quoted identifiers",
			input: `SELECT [Order Details], "Delete", ` + "`update`" + ` FROM t`,
			want: []TokenKind{TokenWord, TokenQuotedIdent, TokenComma, TokenQuotedIdent, TokenComma,
				TokenQuotedIdent, TokenWord, TokenWord},
		},
		{
			name:  "comments",
			input: "SELECT 1 -- note\n/* block */",
			want:  []TokenKind{TokenWord, TokenNumber, TokenComment, TokenComment},
		},
		{
			name:  "punctuation",
			input: "SELECT t.*, COUNT(*) FROM s.t;",
			want: []TokenKind{TokenWord, TokenWord, TokenDot, TokenStar, TokenComma, TokenWord,
				TokenLParen, TokenStar, TokenRParen, TokenWord, TokenWord, TokenDot, TokenWord, TokenSemicolon},
		},
		{
			name:  "numbers variables and operators",
			input: "WHERE a >= 1.5e3 AND b = @id",
			want: []TokenKind{TokenWord, TokenWord, TokenOperator, TokenOperator, TokenNumber,
				TokenWord, TokenWord, TokenOperator, TokenVariable},
		},
		{
			name:  "unicode prefix string",
			input: "N'héllo'",
			want:  []TokenKind{TokenWord, TokenString},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := Tokenize(tt.input)
			assert.Equal(t, tt.want, kinds(tokens))
			for _, tok := range tokens {
				assert.Equal(t, tok.Text, tt.input[tok.Pos:tok.End])
			}
		})
	}
}

func TestTokenizeDialect(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		input   string
		want    []TokenKind
	}{
		{
			name:    "sqlserver backslash is literal",
			dialect: DialectSQLServer,
			input:   "SELECT 'a\\'b'",
			want:    []TokenKind{TokenWord, TokenString, TokenWord, TokenString},
		},
		{
			name:    "sqlserver temp table",
			dialect: DialectSQLServer,
			input:   "SELECT * FROM #temp",
			want:    []TokenKind{TokenWord, TokenStar, TokenWord, TokenWord},
		},
		{
			name:    "mysql escapes and hash comment",
			dialect: DialectMySQL,
			input:   "SELECT 'a\\'b', \"c\\\"d\", `e` # note",
			want: []TokenKind{TokenWord, TokenString, TokenComma, TokenString, TokenComma,
				TokenQuotedIdent, TokenComment},
		},
		{
			name:    "mysql temp table name is a comment",
			dialect: DialectMySQL,
			input:   "SELECT * FROM #temp",
			want:    []TokenKind{TokenWord, TokenStar, TokenWord, TokenComment},
		},
		{
			name:    "postgres escape and dollar strings",
			dialect: DialectPostgres,
			input:   "SELECT E'a\\'b', $$x'y$$, $q$ $$ $q$, $1, 'c\\'",
			want: []TokenKind{TokenWord, TokenString, TokenComma, TokenString, TokenComma,
				TokenString, TokenComma, TokenVariable, TokenComma, TokenString},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := TokenizeDialect(tt.input, tt.dialect)
			assert.Equal(t, tt.want, kinds(tokens))
			for _, tok := range tokens {
				assert.Equal(t, tok.Text, tt.input[tok.Pos:tok.End])
			}
		})
	}
}

func TestTokenizeDialect_Unterminated(t *testing.T) {
	input := "SELECT 'abc\\"
	tokens := TokenizeDialect(input, DialectMySQL)
	require.Len(t, tokens, 2)
	assert.True(t, tokens[1].Unterminated)
	assert.Equal(t, len(input), tokens[1].End)

	tokens = TokenizeDialect("SELECT $tag$ never closed $$", DialectPostgres)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenString, tokens[1].Kind)
	assert.True(t, tokens[1].Unterminated)

	tokens = TokenizeDialect("SELECT E'it\\'s'", DialectPostgres)
	require.Len(t, tokens, 2)
	assert.Equal(t, "E'it\\'s'", tokens[1].Text)
	assert.False(t, tokens[1].Unterminated)
}

func TestTokenize_EscapedQuotes(t *testing.T) {
	tokens := Tokenize("SELECT 'it''s' , [a]]b]")
	require.Len(t, tokens, 4)
	assert.Equal(t, "'it''s'", tokens[1].Text)
	assert.Equal(t, "[a]]b]", tokens[3].Text)
	assert.False(t, tokens[1].Unterminated)
	assert.False(t, tokens[3].Unterminated)
}

func TestTokenize_Unterminated(t *testing.T) {
	tokens := Tokenize("SELECT 'abc FROM t")
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenString, tokens[1].Kind)
	assert.True(t, tokens[1].Unterminated)

	tokens = Tokenize("SELECT 1 /* open")
	require.Len(t, tokens, 3)
	assert.Equal(t, TokenComment, tokens[2].Kind)
	assert.True(t, tokens[2].Unterminated)
}

func TestTokenize_Depth(t *testing.T) {
	tokens := Tokenize("SELECT (a + (b)) FROM t")
	depths := make([]int, len(tokens))
	for i, tok := range tokens {
		depths[i] = tok.Depth
	}
	// SELECT ( a + ( b ) ) FROM t
	assert.Equal(t, []int{0, 0, 1, 1, 1, 2, 1, 0, 0, 0}, depths)
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize(" \n\t "))
}

func TestToken_Is(t *testing.T) {
	tok := Token{Kind: TokenWord, Text: "select"}
	assert.True(t, tok.Is("SELECT"))
	assert.False(t, tok.Is("FROM"))
	assert.False(t, Token{Kind: TokenQuotedIdent, Text: "select"}.Is("select"))
}
