package parser

import (
	"bytes"
	"strings"
)

// Node is the common interface of all AST nodes.
type Node interface {
	// Pos returns the source position of the first token
	// belonging to the node.
	Pos() (line, column int)
	String() string
}

// Statement is an action statement inside a clause block.
type Statement interface {
	Node
	statementNode()
}

// Expression is a value-producing node usable in predicates,
// aggregation keys and action arguments.
type Expression interface {
	Node
	expressionNode()
}

// Script is the parsed form of one script file: an ordered
// sequence of probe clauses. It is immutable after parse.
type Script struct {
	Clauses []*Clause
}

func (s *Script) String() string {
	var out bytes.Buffer
	for i, c := range s.Clauses {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(c.String())
	}
	return out.String()
}

// Clause is one probe clause: a list of probe specifiers, an
// optional predicate and an action block.
type Clause struct {
	Token     Token // first token of the clause
	Specs     []*ProbeSpec
	Predicate Expression // nil when absent, treated as always true
	Actions   []Statement
}

func (c *Clause) Pos() (int, int) { return c.Token.Line, c.Token.Column }
func (c *Clause) String() string {
	var out bytes.Buffer
	var specs []string
	for _, spec := range c.Specs {
		specs = append(specs, spec.String())
	}
	out.WriteString(strings.Join(specs, ", "))
	if c.Predicate != nil {
		out.WriteString(" / ")
		out.WriteString(c.Predicate.String())
		out.WriteString(" /")
	}
	out.WriteString(" { ")
	for _, action := range c.Actions {
		out.WriteString(action.String())
		out.WriteString("; ")
	}
	out.WriteString("}")
	return out.String()
}

// ProbeSpec is a four-component probe specifier. Empty
// components are wildcards; components may carry '*' globs.
// Special is set for the BEGIN and END pseudo probes.
type ProbeSpec struct {
	Token    Token
	Special  string // "BEGIN", "END" or empty
	Provider string
	Module   string
	Function string
	Name     string
}

func (p *ProbeSpec) Pos() (int, int) { return p.Token.Line, p.Token.Column }
func (p *ProbeSpec) String() string {
	if p.Special != "" {
		return p.Special
	}
	return p.Provider + ":" + p.Module + ":" + p.Function + ":" + p.Name
}

// AggregationStatement is "@name[keys] = fn(args)".
type AggregationStatement struct {
	Token Token // the '@name' token
	Name  string
	Keys  []Expression
	Func  string
	Args  []Expression
}

func (a *AggregationStatement) statementNode()  {}
func (a *AggregationStatement) Pos() (int, int) { return a.Token.Line, a.Token.Column }
func (a *AggregationStatement) String() string {
	var out bytes.Buffer
	out.WriteString("@" + a.Name)
	if len(a.Keys) > 0 {
		var keys []string
		for _, key := range a.Keys {
			keys = append(keys, key.String())
		}
		out.WriteString("[" + strings.Join(keys, ", ") + "]")
	}
	out.WriteString(" = " + a.Func + "(")
	var args []string
	for _, arg := range a.Args {
		args = append(args, arg.String())
	}
	out.WriteString(strings.Join(args, ", "))
	out.WriteString(")")
	return out.String()
}

// CallStatement is a built-in action call such as printf,
// trace, clear or exit.
type CallStatement struct {
	Token Token // the function name token
	Func  string
	Args  []Expression
}

func (c *CallStatement) statementNode()  {}
func (c *CallStatement) Pos() (int, int) { return c.Token.Line, c.Token.Column }
func (c *CallStatement) String() string {
	var args []string
	for _, arg := range c.Args {
		args = append(args, arg.String())
	}
	return c.Func + "(" + strings.Join(args, ", ") + ")"
}

// Identifier references a built-in context variable.
type Identifier struct {
	Token Token
	Value string
}

func (i *Identifier) expressionNode() {}
func (i *Identifier) Pos() (int, int) { return i.Token.Line, i.Token.Column }
func (i *Identifier) String() string  { return i.Value }

// AggregationRef references an aggregation variable, as the
// argument of clear().
type AggregationRef struct {
	Token Token
	Name  string
}

func (a *AggregationRef) expressionNode() {}
func (a *AggregationRef) Pos() (int, int) { return a.Token.Line, a.Token.Column }
func (a *AggregationRef) String() string  { return "@" + a.Name }

// IntegerLiteral is a decimal integer literal.
type IntegerLiteral struct {
	Token Token
	Value int64
}

func (il *IntegerLiteral) expressionNode() {}
func (il *IntegerLiteral) Pos() (int, int) { return il.Token.Line, il.Token.Column }
func (il *IntegerLiteral) String() string  { return il.Token.Literal }

// StringLiteral is a double-quoted string literal.
type StringLiteral struct {
	Token Token
	Value string
}

func (sl *StringLiteral) expressionNode() {}
func (sl *StringLiteral) Pos() (int, int) { return sl.Token.Line, sl.Token.Column }
func (sl *StringLiteral) String() string  { return `"` + sl.Value + `"` }

// BooleanLiteral is true or false.
type BooleanLiteral struct {
	Token Token
	Value bool
}

func (bl *BooleanLiteral) expressionNode() {}
func (bl *BooleanLiteral) Pos() (int, int) { return bl.Token.Line, bl.Token.Column }
func (bl *BooleanLiteral) String() string  { return bl.Token.Literal }

// PrefixExpression is a unary '!' or '-' expression.
type PrefixExpression struct {
	Token    Token
	Operator string
	Right    Expression
}

func (pe *PrefixExpression) expressionNode() {}
func (pe *PrefixExpression) Pos() (int, int) { return pe.Token.Line, pe.Token.Column }
func (pe *PrefixExpression) String() string {
	return "(" + pe.Operator + pe.Right.String() + ")"
}

// InfixExpression is a binary operator expression.
type InfixExpression struct {
	Token    Token // the operator token
	Left     Expression
	Operator string
	Right    Expression
}

func (ie *InfixExpression) expressionNode() {}
func (ie *InfixExpression) Pos() (int, int) { return ie.Token.Line, ie.Token.Column }
func (ie *InfixExpression) String() string {
	return "(" + ie.Left.String() + " " + ie.Operator + " " + ie.Right.String() + ")"
}
