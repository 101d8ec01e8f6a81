package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestParseClause parses a full clause and checks all of its
// parts.
func TestParseClause(t *testing.T) {
	assert := assert.New(t)

	script, err := Parse(`
syscall:*:open*:entry, proc:::start
/ pid == 1 && arg1 > 0 /
{
	printf("%s %d", arg0, arg1);
	@opens[arg0] = count();
}`)
	assert.NoError(err)
	if err != nil {
		return
	}
	assert.Equal(1, len(script.Clauses), "number of clauses")
	clause := script.Clauses[0]

	assert.Equal(2, len(clause.Specs), "number of specifiers")
	spec := clause.Specs[0]
	assert.Equal("syscall", spec.Provider)
	assert.Equal("*", spec.Module)
	assert.Equal("open*", spec.Function)
	assert.Equal("entry", spec.Name)
	spec = clause.Specs[1]
	assert.Equal("proc", spec.Provider)
	assert.Equal("", spec.Module)
	assert.Equal("", spec.Function)
	assert.Equal("start", spec.Name)

	assert.NotNil(clause.Predicate)
	assert.Equal("((pid == 1) && (arg1 > 0))", clause.Predicate.String())

	assert.Equal(2, len(clause.Actions), "number of actions")
	call, ok := clause.Actions[0].(*CallStatement)
	assert.True(ok, "first action is a call")
	assert.Equal("printf", call.Func)
	assert.Equal(3, len(call.Args))
	agg, ok := clause.Actions[1].(*AggregationStatement)
	assert.True(ok, "second action is an aggregation")
	assert.Equal("opens", agg.Name)
	assert.Equal(1, len(agg.Keys))
	assert.Equal("count", agg.Func)
	assert.Equal(0, len(agg.Args))
}

// TestParseSpecialProbes checks the BEGIN and END pseudo
// probes and omitted specifier components.
func TestParseSpecialProbes(t *testing.T) {
	assert := assert.New(t)

	script, err := Parse(`
BEGIN { trace("start"); }
:::probe1 { }
END { trace("stop"); }`)
	assert.NoError(err)
	if err != nil {
		return
	}
	assert.Equal(3, len(script.Clauses))
	assert.Equal("BEGIN", script.Clauses[0].Specs[0].Special)
	spec := script.Clauses[1].Specs[0]
	assert.Equal("", spec.Special)
	assert.Equal("", spec.Provider)
	assert.Equal("", spec.Module)
	assert.Equal("", spec.Function)
	assert.Equal("probe1", spec.Name)
	assert.Equal(0, len(script.Clauses[1].Actions), "empty action block")
	assert.Equal("END", script.Clauses[2].Specs[0].Special)
}

// TestParsePrecedence checks operator precedence and grouping
// through the parenthesized string form.
func TestParsePrecedence(t *testing.T) {
	assert := assert.New(t)

	for _, tc := range []struct {
		input    string
		expected string
	}{
		{"a + b * c", "(a + (b * c))"},
		{"a * b + c", "((a * b) + c)"},
		{"a == b && c != d", "((a == b) && (c != d))"},
		{"!a || -b > 0", "((!a) || ((-b) > 0))"},
		{"(a + b) * c", "((a + b) * c)"},
		{"a % b - c", "((a % b) - c)"},
	} {
		script, err := Parse("BEGIN { trace(" + tc.input + "); }")
		assert.NoError(err, tc.input)
		if err != nil {
			continue
		}
		call := script.Clauses[0].Actions[0].(*CallStatement)
		assert.Equal(tc.expected, call.Args[0].String(), tc.input)
	}
}

// TestParsePredicateSlash checks that a top level '/' closes
// the predicate while parenthesized division stays division.
func TestParsePredicateSlash(t *testing.T) {
	assert := assert.New(t)

	script, err := Parse("p:::n / arg0 / { }")
	assert.NoError(err)
	if err == nil {
		assert.Equal("arg0", script.Clauses[0].Predicate.String())
	}

	script, err = Parse("p:::n / (arg0 / 2) == 1 / { }")
	assert.NoError(err)
	if err == nil {
		assert.Equal("((arg0 / 2) == 1)",
			script.Clauses[0].Predicate.String())
	}
}

// TestParseGlobAdjacency checks that glob components are only
// merged from adjacent tokens, keeping arithmetic intact.
func TestParseGlobAdjacency(t *testing.T) {
	assert := assert.New(t)

	script, err := Parse("sys*:mod*ule:*:entry { trace(pid * 2); }")
	assert.NoError(err)
	if err != nil {
		return
	}
	spec := script.Clauses[0].Specs[0]
	assert.Equal("sys*", spec.Provider)
	assert.Equal("mod*ule", spec.Module)
	assert.Equal("*", spec.Function)
	assert.Equal("entry", spec.Name)
	call := script.Clauses[0].Actions[0].(*CallStatement)
	assert.Equal("(pid * 2)", call.Args[0].String())

	// Separated tokens never merge into one component.
	_, err = Parse("sys *:::entry { }")
	assert.Error(err)
}

// TestParseSyntaxErrors checks that malformed scripts report
// the position of the offending token.
func TestParseSyntaxErrors(t *testing.T) {
	assert := assert.New(t)

	for _, tc := range []struct {
		input string
		line  int
	}{
		{"BEGIN\n{\n  trace(;\n}", 3},
		{"BEGIN { trace(1) }", 1},
		{"BEGIN {\n  @a = ;\n}", 2},
		{"BEGIN { trace(1);", 1},
		{"p:m:f:n:extra { }", 1},
		{"p:::n / 1 + / { }", 1},
		{"BEGIN {\n  trace(\"oops);\n}", 2},
	} {
		_, err := Parse(tc.input)
		assert.Error(err, tc.input)
		syntaxErr, ok := err.(*SyntaxError)
		if !assert.True(ok, tc.input) {
			continue
		}
		assert.Equal(tc.line, syntaxErr.Line, tc.input)
		assert.Greater(syntaxErr.Column, 0, tc.input)
	}
}

// TestParseMultipleClauses checks clause ordering.
func TestParseMultipleClauses(t *testing.T) {
	assert := assert.New(t)

	script, err := Parse(`
p:::a { trace(1); }
p:::b / true / { trace(2); }
`)
	assert.NoError(err)
	if err != nil {
		return
	}
	assert.Equal(2, len(script.Clauses))
	assert.Equal("a", script.Clauses[0].Specs[0].Name)
	assert.Equal("b", script.Clauses[1].Specs[0].Name)
	assert.Nil(script.Clauses[0].Predicate)
	assert.NotNil(script.Clauses[1].Predicate)
}
