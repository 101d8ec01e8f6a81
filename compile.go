package tracescript

import (
	"fmt"
	"path"
	"strings"

	"github.com/chaitin/tracescript/pkg/parser"
)

// SemanticError is a single resolution fault with the source
// position of the offending construct.
type SemanticError struct {
	Line   int
	Column int
	Msg    string
}

// Error returns the formatted semantic error.
func (e *SemanticError) Error() string {
	return fmt.Sprintf("semantic error at line %d column %d: %s",
		e.Line, e.Column, e.Msg)
}

// CompileError is the batch of all semantic errors found in
// one resolution pass. Resolution never stops at the first
// fault, so the user gets complete feedback in one run.
type CompileError struct {
	Faults []*SemanticError
}

// Error returns all faults joined by newlines.
func (e *CompileError) Error() string {
	var lines []string
	for _, fault := range e.Faults {
		lines = append(lines, fault.Error())
	}
	return strings.Join(lines, "\n")
}

// aggKind enumerates the closed set of aggregating functions.
type aggKind int

const (
	aggCount aggKind = iota
	aggSum
	aggAvg
	aggMin
	aggMax
	aggQuantize
	aggLquantize
)

var aggKindNames = map[string]aggKind{
	"count":     aggCount,
	"sum":       aggSum,
	"avg":       aggAvg,
	"min":       aggMin,
	"max":       aggMax,
	"quantize":  aggQuantize,
	"lquantize": aggLquantize,
}

func (k aggKind) String() string {
	for name, kind := range aggKindNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// aggDecl is the resolved declaration of one aggregation
// variable: its function and key shape must be consistent
// across every statement referencing it.
type aggDecl struct {
	name     string
	fn       aggKind
	keyKinds []Kind

	// lquantize parameters.
	lower, upper, step int64
}

// identityMatcher matches concrete probe identities against
// one specifier. Empty components are wildcards; non-empty
// components may carry '*' and '?' globs.
type identityMatcher struct {
	provider string
	module   string
	function string
	name     string
}

// literal reports whether the matcher can only ever accept a
// single concrete identity.
func (m identityMatcher) literal() bool {
	for _, comp := range []string{m.provider, m.module, m.function, m.name} {
		if comp == "" || strings.ContainsAny(comp, "*?[") {
			return false
		}
	}
	return true
}

func matchComponent(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == value
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

// match reports whether the matcher accepts the identity.
func (m identityMatcher) match(id ProbeIdentity) bool {
	return matchComponent(m.provider, id.Provider) &&
		matchComponent(m.module, id.Module) &&
		matchComponent(m.function, id.Function) &&
		matchComponent(m.name, id.Name)
}

// compiledClause is the resolved, executable form of one
// clause: identity matchers, a compiled predicate (nil means
// always true) and a compiled action list. It is immutable
// once built and shared read-only across dispatcher threads.
type compiledClause struct {
	index     int
	line      int
	column    int
	isBegin   bool
	isEnd     bool
	matchers  []identityMatcher
	bindings  []ProbeInfo
	predicate evalNode
	actions   []compiledAction
}

// Program is the compiled form of a whole script: clauses in
// declaration order, the probe table indexing them, BEGIN/END
// clause lists and the aggregation declarations.
type Program struct {
	clauses  []*compiledClause
	begin    []*compiledClause
	end      []*compiledClause
	table    *probeTable
	aggs     map[string]*aggDecl
	aggOrder []string
}

// Compile resolves a parsed script against the probe catalog
// and type-checks every predicate and action. All semantic
// errors are collected and reported in one batch.
func Compile(script *parser.Script, catalog Catalog, options ...Option) (*Program, error) {
	opt := newOption()
	WithOptions(options...)(opt)

	rs := &resolver{
		opt:      opt,
		aggs:     make(map[string]*aggDecl),
		aggNames: make(map[string]bool),
	}
	if catalog != nil {
		rs.probes = catalog.Probes()
	}

	// Pre-scan aggregation statement names so that a clear()
	// may reference an aggregation declared in a later clause.
	for _, clause := range script.Clauses {
		for _, action := range clause.Actions {
			if agg, ok := action.(*parser.AggregationStatement); ok {
				rs.aggNames[agg.Name] = true
			}
		}
	}

	program := &Program{aggs: rs.aggs}
	for i, clause := range script.Clauses {
		compiled := rs.compileClause(i, clause)
		if compiled == nil {
			continue
		}
		program.clauses = append(program.clauses, compiled)
		if compiled.isBegin {
			program.begin = append(program.begin, compiled)
		}
		if compiled.isEnd {
			program.end = append(program.end, compiled)
		}
	}
	if len(rs.errs) > 0 {
		return nil, &CompileError{Faults: rs.errs}
	}
	program.aggOrder = rs.aggOrder
	program.table = newProbeTable(program.clauses)
	return program, nil
}

// resolver carries the state of one resolution pass.
type resolver struct {
	opt      *option
	probes   []ProbeInfo
	errs     []*SemanticError
	aggs     map[string]*aggDecl
	aggNames map[string]bool
	aggOrder []string
}

func (r *resolver) errorf(node parser.Node, format string, args ...interface{}) {
	line, column := node.Pos()
	r.errs = append(r.errs, &SemanticError{
		Line:   line,
		Column: column,
		Msg:    fmt.Sprintf(format, args...),
	})
}

func (r *resolver) compileClause(index int, clause *parser.Clause) *compiledClause {
	line, column := clause.Pos()
	compiled := &compiledClause{
		index:  index,
		line:   line,
		column: column,
	}

	// Expand the specifiers against the catalog. BEGIN and
	// END are pseudo probes fired by the engine itself and
	// need no catalog entry.
	for _, spec := range clause.Specs {
		switch spec.Special {
		case "BEGIN":
			compiled.isBegin = true
			continue
		case "END":
			compiled.isEnd = true
			continue
		}
		if bad := r.checkPatterns(spec); bad {
			continue
		}
		matcher := identityMatcher{
			provider: spec.Provider,
			module:   spec.Module,
			function: spec.Function,
			name:     spec.Name,
		}
		compiled.matchers = append(compiled.matchers, matcher)
		matched := 0
		for _, probe := range r.probes {
			if matcher.match(probe.Probe) {
				compiled.bindings = append(compiled.bindings, probe)
				matched++
			}
		}
		if matched == 0 && !r.opt.deferredBinding {
			r.errorf(spec, "no probe matches specifier %q", spec.String())
		}
	}

	env := &clauseEnv{resolver: r, clause: compiled}
	if clause.Predicate != nil {
		pred := env.compileExpr(clause.Predicate)
		if pred != nil && pred.kind() != KindBool {
			r.errorf(clause.Predicate, "predicate must be boolean, got %s",
				pred.kind())
			pred = nil
		}
		compiled.predicate = pred
	}

	if len(clause.Actions) == 0 {
		// A clause without actions traces the probe identity
		// and timestamp by default.
		compiled.actions = []compiledAction{defaultTraceAction{}}
		return compiled
	}
	for _, action := range clause.Actions {
		if compiledAct := env.compileAction(action); compiledAct != nil {
			compiled.actions = append(compiled.actions, compiledAct)
		}
	}
	return compiled
}

// checkPatterns validates the glob syntax of every specifier
// component, reporting malformed patterns as semantic errors.
func (r *resolver) checkPatterns(spec *parser.ProbeSpec) bool {
	bad := false
	for _, comp := range []string{spec.Provider, spec.Module, spec.Function, spec.Name} {
		if comp == "" || !strings.ContainsAny(comp, "*?[") {
			continue
		}
		if _, err := path.Match(comp, ""); err != nil {
			r.errorf(spec, "malformed pattern %q in specifier", comp)
			bad = true
		}
	}
	return bad
}

// clauseEnv is the identifier environment of one clause,
// carrying the argument typing derived from its bindings.
type clauseEnv struct {
	resolver *resolver
	clause   *compiledClause
}

// builtinVars are the context variables available to every
// predicate and action expression.
var builtinVars = map[string]struct {
	kind  Kind
	fetch func(*Event) Value
}{
	"timestamp": {KindInt, func(ev *Event) Value { return IntValue(ev.Timestamp) }},
	"tid":       {KindInt, func(ev *Event) Value { return IntValue(int64(ev.TID)) }},
	"pid":       {KindInt, func(ev *Event) Value { return IntValue(int64(ev.PID)) }},
	"cpu":       {KindInt, func(ev *Event) Value { return IntValue(int64(ev.CPU)) }},
	"probeprov": {KindString, func(ev *Event) Value { return StringValue(ev.Probe.Provider) }},
	"probemod":  {KindString, func(ev *Event) Value { return StringValue(ev.Probe.Module) }},
	"probefunc": {KindString, func(ev *Event) Value { return StringValue(ev.Probe.Function) }},
	"probename": {KindString, func(ev *Event) Value { return StringValue(ev.Probe.Name) }},
}

// resolveArg determines the kind of argN across every probe
// the clause is bound to. Conflicting kinds are ambiguous and
// rejected; unbound clauses (deferred binding) default to int.
func (env *clauseEnv) resolveArg(node parser.Node, idx int) (Kind, bool) {
	kind := KindInvalid
	for _, binding := range env.clause.bindings {
		if idx >= len(binding.Args) {
			continue
		}
		argKind := binding.Args[idx]
		if kind == KindInvalid {
			kind = argKind
		} else if kind != argKind {
			env.resolver.errorf(node,
				"ambiguous type for arg%d: bound probes disagree (%s vs %s)",
				idx, kind, argKind)
			return KindInvalid, false
		}
	}
	if kind == KindInvalid {
		if len(env.clause.bindings) > 0 {
			env.resolver.errorf(node,
				"arg%d is not defined by any probe bound to this clause", idx)
			return KindInvalid, false
		}
		// Deferred binding: nothing to type against.
		kind = KindInt
	}
	return kind, true
}

// compileExpr type-checks and compiles an expression into its
// executable node form. A nil return means an error has been
// recorded; compilation of siblings continues regardless.
func (env *clauseEnv) compileExpr(expr parser.Expression) evalNode {
	switch node := expr.(type) {
	case *parser.IntegerLiteral:
		return &constNode{v: IntValue(node.Value)}
	case *parser.StringLiteral:
		return &constNode{v: StringValue(node.Value)}
	case *parser.BooleanLiteral:
		return &constNode{v: BoolValue(node.Value)}
	case *parser.Identifier:
		if builtin, ok := builtinVars[node.Value]; ok {
			return &builtinNode{k: builtin.kind, fetch: builtin.fetch}
		}
		if idx, ok := parseArgName(node.Value); ok {
			kind, ok := env.resolveArg(node, idx)
			if !ok {
				return nil
			}
			return &argNode{idx: idx, k: kind}
		}
		env.resolver.errorf(node, "unknown identifier %q", node.Value)
		return nil
	case *parser.AggregationRef:
		env.resolver.errorf(node,
			"aggregation @%s cannot be read inside an expression", node.Name)
		return nil
	case *parser.PrefixExpression:
		right := env.compileExpr(node.Right)
		if right == nil {
			return nil
		}
		switch node.Operator {
		case "!":
			if right.kind() != KindBool {
				env.resolver.errorf(node, "operator ! requires bool, got %s",
					right.kind())
				return nil
			}
			return &notNode{x: right}
		case "-":
			if right.kind() != KindInt {
				env.resolver.errorf(node, "operator - requires int, got %s",
					right.kind())
				return nil
			}
			return &negNode{x: right}
		}
		env.resolver.errorf(node, "unknown prefix operator %q", node.Operator)
		return nil
	case *parser.InfixExpression:
		return env.compileInfix(node)
	default:
		env.resolver.errorf(expr, "unsupported expression")
		return nil
	}
}

func (env *clauseEnv) compileInfix(node *parser.InfixExpression) evalNode {
	left := env.compileExpr(node.Left)
	right := env.compileExpr(node.Right)
	if left == nil || right == nil {
		return nil
	}
	mismatch := func(want Kind) bool {
		if left.kind() != want || right.kind() != want {
			env.resolver.errorf(node,
				"type mismatch: operator %s requires %s operands, got %s and %s",
				node.Operator, want, left.kind(), right.kind())
			return true
		}
		return false
	}
	switch node.Operator {
	case "+", "-", "*", "/", "%":
		if mismatch(KindInt) {
			return nil
		}
		return &arithNode{op: node.Operator, l: left, r: right}
	case "<", "<=", ">", ">=":
		if mismatch(KindInt) {
			return nil
		}
		return &cmpNode{op: node.Operator, l: left, r: right}
	case "==", "!=":
		if left.kind() != right.kind() {
			env.resolver.errorf(node,
				"type mismatch: cannot compare %s with %s",
				left.kind(), right.kind())
			return nil
		}
		return &cmpNode{op: node.Operator, l: left, r: right}
	case "&&", "||":
		if mismatch(KindBool) {
			return nil
		}
		return &logicalNode{and: node.Operator == "&&", l: left, r: right}
	}
	env.resolver.errorf(node, "unknown operator %q", node.Operator)
	return nil
}

func parseArgName(name string) (int, bool) {
	if !strings.HasPrefix(name, "arg") || len(name) != 4 {
		return 0, false
	}
	digit := name[3]
	if digit < '0' || digit > '9' {
		return 0, false
	}
	return int(digit - '0'), true
}

// compileAction compiles one action statement.
func (env *clauseEnv) compileAction(stmt parser.Statement) compiledAction {
	switch node := stmt.(type) {
	case *parser.AggregationStatement:
		return env.compileAggregation(node)
	case *parser.CallStatement:
		switch node.Func {
		case "printf":
			return env.compilePrintf(node)
		case "trace":
			if len(node.Args) != 1 {
				env.resolver.errorf(node, "trace takes exactly one argument")
				return nil
			}
			arg := env.compileExpr(node.Args[0])
			if arg == nil {
				return nil
			}
			return &traceAction{arg: arg}
		case "exit":
			if len(node.Args) != 1 {
				env.resolver.errorf(node, "exit takes exactly one argument")
				return nil
			}
			code := env.compileExpr(node.Args[0])
			if code == nil {
				return nil
			}
			if code.kind() != KindInt {
				env.resolver.errorf(node, "exit code must be int, got %s",
					code.kind())
				return nil
			}
			return &exitAction{code: code}
		case "clear":
			if len(node.Args) != 1 {
				env.resolver.errorf(node, "clear takes exactly one argument")
				return nil
			}
			ref, ok := node.Args[0].(*parser.AggregationRef)
			if !ok {
				env.resolver.errorf(node, "clear requires an @aggregation argument")
				return nil
			}
			if !env.resolver.aggNames[ref.Name] {
				env.resolver.errorf(node, "undeclared aggregation @%s", ref.Name)
				return nil
			}
			return &clearAction{name: ref.Name}
		default:
			env.resolver.errorf(node, "unknown function %q", node.Func)
			return nil
		}
	default:
		env.resolver.errorf(stmt, "unsupported action statement")
		return nil
	}
}

// maxLquantizeBuckets bounds histogram memory per record.
const maxLquantizeBuckets = 4096

func (env *clauseEnv) compileAggregation(node *parser.AggregationStatement) compiledAction {
	fn, ok := aggKindNames[node.Func]
	if !ok {
		env.resolver.errorf(node, "unknown aggregating function %q", node.Func)
		return nil
	}

	var keys []evalNode
	var keyKinds []Kind
	for _, keyExpr := range node.Keys {
		key := env.compileExpr(keyExpr)
		if key == nil {
			return nil
		}
		keys = append(keys, key)
		keyKinds = append(keyKinds, key.kind())
	}

	decl := &aggDecl{name: node.Name, fn: fn, keyKinds: keyKinds}
	var value evalNode
	switch fn {
	case aggCount:
		if len(node.Args) != 0 {
			env.resolver.errorf(node, "count takes no arguments")
			return nil
		}
	case aggSum, aggAvg, aggMin, aggMax, aggQuantize:
		if len(node.Args) != 1 {
			env.resolver.errorf(node, "%s takes exactly one argument", node.Func)
			return nil
		}
		value = env.compileExpr(node.Args[0])
		if value == nil {
			return nil
		}
		if value.kind() != KindInt {
			env.resolver.errorf(node, "%s requires an int argument, got %s",
				node.Func, value.kind())
			return nil
		}
	case aggLquantize:
		if len(node.Args) != 3 && len(node.Args) != 4 {
			env.resolver.errorf(node,
				"lquantize takes (value, lower, upper[, step]) arguments")
			return nil
		}
		value = env.compileExpr(node.Args[0])
		if value == nil {
			return nil
		}
		if value.kind() != KindInt {
			env.resolver.errorf(node, "lquantize requires an int value, got %s",
				value.kind())
			return nil
		}
		params := make([]int64, 0, 3)
		for _, arg := range node.Args[1:] {
			literal, ok := intConstant(arg)
			if !ok {
				env.resolver.errorf(arg, "lquantize bounds must be integer constants")
				return nil
			}
			params = append(params, literal)
		}
		decl.lower, decl.upper = params[0], params[1]
		decl.step = int64(1)
		if len(params) == 3 {
			decl.step = params[2]
		}
		if decl.step <= 0 || decl.lower >= decl.upper {
			env.resolver.errorf(node,
				"invalid lquantize bounds (%d, %d, %d)",
				decl.lower, decl.upper, decl.step)
			return nil
		}
		if (decl.upper-decl.lower)/decl.step+2 > maxLquantizeBuckets {
			env.resolver.errorf(node, "lquantize bounds produce too many buckets")
			return nil
		}
	}

	registered := env.resolver.registerAgg(node, decl)
	if registered == nil {
		return nil
	}
	return &aggAction{decl: registered, keys: keys, value: value}
}

// registerAgg records the declaration of an aggregation,
// checking consistency with every earlier statement using the
// same name.
func (r *resolver) registerAgg(node *parser.AggregationStatement, decl *aggDecl) *aggDecl {
	existing, ok := r.aggs[decl.name]
	if !ok {
		r.aggs[decl.name] = decl
		r.aggOrder = append(r.aggOrder, decl.name)
		return decl
	}
	if existing.fn != decl.fn {
		r.errorf(node, "aggregation @%s redeclared as %s, previously %s",
			decl.name, decl.fn, existing.fn)
		return nil
	}
	if len(existing.keyKinds) != len(decl.keyKinds) {
		r.errorf(node, "aggregation @%s key arity mismatch: %d vs %d",
			decl.name, len(decl.keyKinds), len(existing.keyKinds))
		return nil
	}
	for i, kind := range decl.keyKinds {
		if existing.keyKinds[i] != kind {
			r.errorf(node, "aggregation @%s key %d kind mismatch: %s vs %s",
				decl.name, i, kind, existing.keyKinds[i])
			return nil
		}
	}
	if existing.fn == aggLquantize &&
		(existing.lower != decl.lower || existing.upper != decl.upper ||
			existing.step != decl.step) {
		r.errorf(node, "aggregation @%s lquantize bounds differ between statements",
			decl.name)
		return nil
	}
	return existing
}

// intConstant folds an integer literal, optionally negated.
func intConstant(expr parser.Expression) (int64, bool) {
	switch node := expr.(type) {
	case *parser.IntegerLiteral:
		return node.Value, true
	case *parser.PrefixExpression:
		if node.Operator != "-" {
			return 0, false
		}
		inner, ok := node.Right.(*parser.IntegerLiteral)
		if !ok {
			return 0, false
		}
		return -inner.Value, true
	default:
		return 0, false
	}
}

// printfVerbKinds maps supported conversion characters to the
// operand kind they require and the Go verb they compile to.
var printfVerbKinds = map[byte]struct {
	kind Kind
	verb byte
}{
	'd': {KindInt, 'd'},
	'i': {KindInt, 'd'},
	'u': {KindInt, 'd'},
	'x': {KindInt, 'x'},
	'X': {KindInt, 'X'},
	's': {KindString, 's'},
}

func (env *clauseEnv) compilePrintf(node *parser.CallStatement) compiledAction {
	if len(node.Args) == 0 {
		env.resolver.errorf(node, "printf requires a format string")
		return nil
	}
	format, ok := node.Args[0].(*parser.StringLiteral)
	if !ok {
		env.resolver.errorf(node.Args[0], "printf format must be a string literal")
		return nil
	}

	// Rewrite the format to Go conventions while collecting
	// the kind demanded by each conversion.
	var goFormat strings.Builder
	var wantKinds []Kind
	text := format.Value
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '%' {
			goFormat.WriteByte(ch)
			continue
		}
		goFormat.WriteByte('%')
		i++
		// Copy flag and width characters verbatim.
		for i < len(text) && (text[i] == '-' ||
			(text[i] >= '0' && text[i] <= '9')) {
			goFormat.WriteByte(text[i])
			i++
		}
		if i >= len(text) {
			env.resolver.errorf(format, "truncated conversion in format %q", text)
			return nil
		}
		if text[i] == '%' {
			goFormat.WriteByte('%')
			continue
		}
		spec, ok := printfVerbKinds[text[i]]
		if !ok {
			env.resolver.errorf(format, "unsupported conversion %%%c in format %q",
				text[i], text)
			return nil
		}
		goFormat.WriteByte(spec.verb)
		wantKinds = append(wantKinds, spec.kind)
	}

	args := node.Args[1:]
	if len(args) != len(wantKinds) {
		env.resolver.errorf(node,
			"printf format %q expects %d arguments, got %d",
			text, len(wantKinds), len(args))
		return nil
	}
	var compiled []evalNode
	for i, arg := range args {
		compiledArg := env.compileExpr(arg)
		if compiledArg == nil {
			return nil
		}
		if compiledArg.kind() != wantKinds[i] {
			env.resolver.errorf(arg,
				"printf argument %d must be %s, got %s",
				i+1, wantKinds[i], compiledArg.kind())
			return nil
		}
		compiled = append(compiled, compiledArg)
	}
	return &printfAction{format: goFormat.String(), args: compiled}
}
