package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLexerTokens drives the lexer over a representative
// clause and checks the produced token stream.
func TestLexerTokens(t *testing.T) {
	assert := assert.New(t)

	input := `syscall:*:open*:entry / pid == 1 / { @c = count(); }`
	expected := []struct {
		tokenType TokenType
		literal   string
	}{
		{IDENT, "syscall"},
		{COLON, ":"},
		{ASTERISK, "*"},
		{COLON, ":"},
		{IDENT, "open"},
		{ASTERISK, "*"},
		{COLON, ":"},
		{IDENT, "entry"},
		{SLASH, "/"},
		{IDENT, "pid"},
		{EQ, "=="},
		{INT, "1"},
		{SLASH, "/"},
		{LBRACE, "{"},
		{AGG, "c"},
		{ASSIGN, "="},
		{IDENT, "count"},
		{LPAREN, "("},
		{RPAREN, ")"},
		{SEMICOLON, ";"},
		{RBRACE, "}"},
		{EOF, ""},
	}

	l := NewLexer(input)
	for i, want := range expected {
		tok := l.NextToken()
		assert.Equal(want.tokenType, tok.Type, "token %d type", i)
		assert.Equal(want.literal, tok.Literal, "token %d literal", i)
	}
}

// TestLexerPositions checks the one-based line and column
// counters across multiple lines.
func TestLexerPositions(t *testing.T) {
	assert := assert.New(t)

	input := "BEGIN\n{\n  trace(1);\n}"
	expected := []struct {
		tokenType TokenType
		line      int
		column    int
	}{
		{IDENT, 1, 1},
		{LBRACE, 2, 1},
		{IDENT, 3, 3},
		{LPAREN, 3, 8},
		{INT, 3, 9},
		{RPAREN, 3, 10},
		{SEMICOLON, 3, 11},
		{RBRACE, 4, 1},
		{EOF, 4, 2},
	}

	l := NewLexer(input)
	for i, want := range expected {
		tok := l.NextToken()
		assert.Equal(want.tokenType, tok.Type, "token %d type", i)
		assert.Equal(want.line, tok.Line, "token %d line", i)
		assert.Equal(want.column, tok.Column, "token %d column", i)
	}
}

// TestLexerComments checks that both comment forms and the
// two-char operators are handled.
func TestLexerComments(t *testing.T) {
	assert := assert.New(t)

	input := "a // line comment\n/* block\ncomment */ <= >= != && || \"str\""
	expected := []struct {
		tokenType TokenType
		literal   string
	}{
		{IDENT, "a"},
		{LTE, "<="},
		{GTE, ">="},
		{NOT_EQ, "!="},
		{AND, "&&"},
		{OR, "||"},
		{STRING, "str"},
		{EOF, ""},
	}

	l := NewLexer(input)
	for i, want := range expected {
		tok := l.NextToken()
		assert.Equal(want.tokenType, tok.Type, "token %d type", i)
		assert.Equal(want.literal, tok.Literal, "token %d literal", i)
	}
}

// TestLexerKeywords checks keyword and illegal handling.
func TestLexerKeywords(t *testing.T) {
	assert := assert.New(t)

	l := NewLexer("true false truthy $")
	tok := l.NextToken()
	assert.Equal(TRUE, tok.Type)
	tok = l.NextToken()
	assert.Equal(FALSE, tok.Type)
	tok = l.NextToken()
	assert.Equal(IDENT, tok.Type)
	assert.Equal("truthy", tok.Literal)
	tok = l.NextToken()
	assert.Equal(ILLEGAL, tok.Type)
}

// TestLexerUnterminatedString checks that a string literal
// left open at EOF surfaces as an illegal token at the
// position of its opening quote.
func TestLexerUnterminatedString(t *testing.T) {
	assert := assert.New(t)

	l := NewLexer(`trace("oops`)
	tok := l.NextToken()
	assert.Equal(IDENT, tok.Type)
	tok = l.NextToken()
	assert.Equal(LPAREN, tok.Type)
	tok = l.NextToken()
	assert.Equal(ILLEGAL, tok.Type)
	assert.Equal("oops", tok.Literal)
	assert.Equal(1, tok.Line)
	assert.Equal(7, tok.Column)
}
