// Package parser implements the lexer and parser of trace
// scripts. A script is a sequence of probe clauses, each made
// of probe specifiers, an optional "/ ... /" predicate and a
// "{ ... }" action block.
package parser

import (
	"fmt"
	"strconv"
)

// SyntaxError is the fatal error reported for the first
// malformed construct encountered while parsing. It carries
// the one-based source position of the offending token.
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
}

// Error returns the formatted syntax error.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d column %d: %s",
		e.Line, e.Column, e.Msg)
}

// Operator precedence, lowest to highest.
const (
	_ int = iota
	LOWEST
	LOGICAL     // && ||
	EQUALS      // == !=
	LESSGREATER // < > <= >=
	SUM         // + -
	PRODUCT     // * / %
	PREFIX      // -x !x
)

var precedences = map[TokenType]int{
	AND:      LOGICAL,
	OR:       LOGICAL,
	EQ:       EQUALS,
	NOT_EQ:   EQUALS,
	LT:       LESSGREATER,
	GT:       LESSGREATER,
	LTE:      LESSGREATER,
	GTE:      LESSGREATER,
	PLUS:     SUM,
	MINUS:    SUM,
	ASTERISK: PRODUCT,
	SLASH:    PRODUCT,
	PERCENT:  PRODUCT,
}

type (
	prefixParseFn func() Expression
	infixParseFn  func(Expression) Expression
)

// Parser is a recursive-descent parser over the token stream
// of a single script. It fails fast: the first syntax error
// aborts parsing.
type Parser struct {
	l *Lexer

	curToken  Token
	peekToken Token

	err *SyntaxError

	// inPredicate marks that a "/ ... /" section is being
	// parsed; at group depth zero a '/' then closes the
	// predicate instead of acting as division.
	inPredicate bool
	groupDepth  int

	prefixParseFns map[TokenType]prefixParseFn
	infixParseFns  map[TokenType]infixParseFn
}

// Parse parses the script text and returns its AST, or the
// first syntax error encountered.
func Parse(input string) (*Script, error) {
	p := newParser(NewLexer(input))
	script := &Script{}
	for !p.curTokenIs(EOF) {
		clause := p.parseClause()
		if p.err != nil {
			return nil, p.err
		}
		script.Clauses = append(script.Clauses, clause)
		p.nextToken()
	}
	return script, nil
}

func newParser(l *Lexer) *Parser {
	p := &Parser{l: l}

	p.prefixParseFns = map[TokenType]prefixParseFn{
		IDENT:  p.parseIdentifier,
		AGG:    p.parseAggregationRef,
		INT:    p.parseIntegerLiteral,
		STRING: p.parseStringLiteral,
		TRUE:   p.parseBooleanLiteral,
		FALSE:  p.parseBooleanLiteral,
		NOT:    p.parsePrefixExpression,
		MINUS:  p.parsePrefixExpression,
		LPAREN: p.parseGroupedExpression,
	}
	p.infixParseFns = map[TokenType]infixParseFn{
		EQ:       p.parseInfixExpression,
		NOT_EQ:   p.parseInfixExpression,
		LT:       p.parseInfixExpression,
		GT:       p.parseInfixExpression,
		LTE:      p.parseInfixExpression,
		GTE:      p.parseInfixExpression,
		AND:      p.parseInfixExpression,
		OR:       p.parseInfixExpression,
		PLUS:     p.parseInfixExpression,
		MINUS:    p.parseInfixExpression,
		ASTERISK: p.parseInfixExpression,
		SLASH:    p.parseInfixExpression,
		PERCENT:  p.parseInfixExpression,
	}

	// Read two tokens, so curToken and peekToken are both set.
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) errorf(tok Token, format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	p.err = &SyntaxError{
		Line:   tok.Line,
		Column: tok.Column,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expectPeek(t TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf(p.peekToken, "expected next token to be %s, got %s instead",
		t, p.peekToken.Type)
	return false
}

// parseClause parses one probe clause with curToken on its
// first token, leaving curToken on the closing '}'.
func (p *Parser) parseClause() *Clause {
	clause := &Clause{Token: p.curToken}

	for {
		spec := p.parseProbeSpec()
		if spec == nil {
			return nil
		}
		clause.Specs = append(clause.Specs, spec)
		if !p.peekTokenIs(COMMA) {
			break
		}
		p.nextToken()
		p.nextToken()
	}

	if p.peekTokenIs(SLASH) {
		p.nextToken()
		p.nextToken()
		p.inPredicate = true
		clause.Predicate = p.parseExpression(LOWEST)
		p.inPredicate = false
		if clause.Predicate == nil {
			return nil
		}
		if !p.expectPeek(SLASH) {
			return nil
		}
	}

	if !p.expectPeek(LBRACE) {
		return nil
	}
	p.nextToken()
	for !p.curTokenIs(RBRACE) {
		if p.curTokenIs(EOF) {
			p.errorf(clause.Token, "unterminated action block")
			return nil
		}
		stmt := p.parseStatement()
		if stmt == nil {
			return nil
		}
		clause.Actions = append(clause.Actions, stmt)
		p.nextToken()
	}
	return clause
}

func isSpecComponentToken(t TokenType) bool {
	switch t {
	case IDENT, ASTERISK, INT, TRUE, FALSE:
		return true
	default:
		return false
	}
}

// parseProbeSpec parses one probe specifier with curToken on
// its first token, leaving curToken on its last token.
//
// A component is a run of adjacent identifier, number and '*'
// tokens; adjacency is checked through token positions so
// that "sys*" forms one glob while "a * b" stays arithmetic.
func (p *Parser) parseProbeSpec() *ProbeSpec {
	spec := &ProbeSpec{Token: p.curToken}
	if !isSpecComponentToken(p.curToken.Type) && !p.curTokenIs(COLON) {
		p.errorf(p.curToken, "expected probe specifier, got %s", p.curToken.Type)
		return nil
	}

	var comps []string
	current := ""
	prevLine, prevEnd := -1, -1
	for {
		switch {
		case p.curTokenIs(COLON):
			comps = append(comps, current)
			current = ""
			prevLine, prevEnd = -1, -1
		case isSpecComponentToken(p.curToken.Type):
			if current != "" && !(p.curToken.Line == prevLine &&
				p.curToken.Column == prevEnd) {
				p.errorf(p.curToken, "malformed probe component %q",
					current+" "+p.curToken.Literal)
				return nil
			}
			current += p.curToken.Literal
			prevLine = p.curToken.Line
			prevEnd = p.curToken.Column + len(p.curToken.Literal)
		default:
			p.errorf(p.curToken, "unexpected %s in probe specifier",
				p.curToken.Type)
			return nil
		}
		if t := p.peekToken.Type; t == COMMA || t == SLASH ||
			t == LBRACE || t == EOF {
			break
		}
		p.nextToken()
	}
	comps = append(comps, current)

	if len(comps) == 1 && (comps[0] == "BEGIN" || comps[0] == "END") {
		spec.Special = comps[0]
		return spec
	}
	if len(comps) > 4 {
		p.errorf(spec.Token, "probe specifier has %d components, at most 4 allowed",
			len(comps))
		return nil
	}
	var padded [4]string
	copy(padded[:], comps)
	spec.Provider = padded[0]
	spec.Module = padded[1]
	spec.Function = padded[2]
	spec.Name = padded[3]
	return spec
}

// parseStatement parses one action statement with curToken on
// its first token, leaving curToken on the terminating ';'.
func (p *Parser) parseStatement() Statement {
	switch p.curToken.Type {
	case AGG:
		return p.parseAggregationStatement()
	case IDENT:
		return p.parseCallStatement()
	default:
		p.errorf(p.curToken, "expected action statement, got %s",
			p.curToken.Type)
		return nil
	}
}

func (p *Parser) parseAggregationStatement() Statement {
	stmt := &AggregationStatement{
		Token: p.curToken,
		Name:  p.curToken.Literal,
	}
	if p.peekTokenIs(LBRACKET) {
		p.nextToken()
		stmt.Keys = p.parseExpressionList(RBRACKET)
		if p.err != nil {
			return nil
		}
		if len(stmt.Keys) == 0 {
			p.errorf(p.curToken, "empty aggregation key list")
			return nil
		}
	}
	if !p.expectPeek(ASSIGN) {
		return nil
	}
	if !p.expectPeek(IDENT) {
		return nil
	}
	stmt.Func = p.curToken.Literal
	if !p.expectPeek(LPAREN) {
		return nil
	}
	stmt.Args = p.parseExpressionList(RPAREN)
	if p.err != nil {
		return nil
	}
	if !p.expectPeek(SEMICOLON) {
		return nil
	}
	return stmt
}

func (p *Parser) parseCallStatement() Statement {
	stmt := &CallStatement{
		Token: p.curToken,
		Func:  p.curToken.Literal,
	}
	if !p.expectPeek(LPAREN) {
		return nil
	}
	stmt.Args = p.parseExpressionList(RPAREN)
	if p.err != nil {
		return nil
	}
	if !p.expectPeek(SEMICOLON) {
		return nil
	}
	return stmt
}

// parseExpressionList parses a comma separated expression
// list with curToken on the opening delimiter, leaving
// curToken on the closing one.
func (p *Parser) parseExpressionList(end TokenType) []Expression {
	p.groupDepth++
	defer func() { p.groupDepth-- }()

	var list []Expression
	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if expr == nil {
		return nil
	}
	list = append(list, expr)
	for p.peekTokenIs(COMMA) {
		p.nextToken()
		p.nextToken()
		expr := p.parseExpression(LOWEST)
		if expr == nil {
			return nil
		}
		list = append(list, expr)
	}
	if !p.expectPeek(end) {
		return nil
	}
	return list
}

func (p *Parser) parseExpression(precedence int) Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.errorf(p.curToken, "unexpected token %s in expression",
			p.curToken.Type)
		return nil
	}
	leftExpr := prefix()

	for leftExpr != nil && precedence < p.peekPrecedence() {
		if p.peekTokenIs(SLASH) && p.inPredicate && p.groupDepth == 0 {
			// Closing delimiter of the predicate section.
			break
		}
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExpr
		}
		p.nextToken()
		leftExpr = infix(leftExpr)
	}
	return leftExpr
}

func (p *Parser) parseIdentifier() Expression {
	return &Identifier{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseAggregationRef() Expression {
	return &AggregationRef{Token: p.curToken, Name: p.curToken.Literal}
}

func (p *Parser) parseIntegerLiteral() Expression {
	lit := &IntegerLiteral{Token: p.curToken}
	value, err := strconv.ParseInt(p.curToken.Literal, 0, 64)
	if err != nil {
		p.errorf(p.curToken, "could not parse %q as integer",
			p.curToken.Literal)
		return nil
	}
	lit.Value = value
	return lit
}

func (p *Parser) parseStringLiteral() Expression {
	return &StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBooleanLiteral() Expression {
	return &BooleanLiteral{Token: p.curToken, Value: p.curTokenIs(TRUE)}
}

func (p *Parser) parsePrefixExpression() Expression {
	expr := &PrefixExpression{
		Token:    p.curToken,
		Operator: p.curToken.Literal,
	}
	p.nextToken()
	expr.Right = p.parseExpression(PREFIX)
	if expr.Right == nil {
		return nil
	}
	return expr
}

func (p *Parser) parseInfixExpression(left Expression) Expression {
	expr := &InfixExpression{
		Token:    p.curToken,
		Left:     left,
		Operator: p.curToken.Literal,
	}
	precedence := p.curPrecedence()
	p.nextToken()
	expr.Right = p.parseExpression(precedence)
	if expr.Right == nil {
		return nil
	}
	return expr
}

func (p *Parser) parseGroupedExpression() Expression {
	p.groupDepth++
	defer func() { p.groupDepth-- }()

	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if expr == nil {
		return nil
	}
	if !p.expectPeek(RPAREN) {
		return nil
	}
	return expr
}

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peekToken.Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.curToken.Type]; ok {
		return prec
	}
	return LOWEST
}
