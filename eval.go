package tracescript

import (
	"fmt"
)

// runtimeFault is a fault raised while evaluating a clause on
// one event: division by zero, a missing argument and so on.
// A fault aborts the faulting clause for that event only; the
// engine reports it and keeps dispatching.
type runtimeFault struct {
	msg string
}

func (f *runtimeFault) Error() string { return f.msg }

func faultf(format string, args ...interface{}) error {
	return &runtimeFault{msg: fmt.Sprintf(format, args...)}
}

// firing is the evaluation context of one clause on one event.
type firing struct {
	ev     *Event
	clause *compiledClause
	eng    *Engine

	// Set by exit() to request engine shutdown.
	exit     bool
	exitCode int64
}

// evalNode is a compiled expression node. The kind is fixed at
// resolution time, so eval never needs to re-check operand
// types.
type evalNode interface {
	kind() Kind
	eval(f *firing) (Value, error)
}

type constNode struct {
	v Value
}

func (n *constNode) kind() Kind { return n.v.Kind() }

func (n *constNode) eval(_ *firing) (Value, error) { return n.v, nil }

type builtinNode struct {
	k     Kind
	fetch func(*Event) Value
}

func (n *builtinNode) kind() Kind { return n.k }
func (n *builtinNode) eval(f *firing) (Value, error) {
	return n.fetch(f.ev), nil
}

type argNode struct {
	idx int
	k   Kind
}

func (n *argNode) kind() Kind { return n.k }
func (n *argNode) eval(f *firing) (Value, error) {
	if n.idx >= len(f.ev.Args) {
		return Value{}, faultf("arg%d is not present on this event", n.idx)
	}
	v := f.ev.Args[n.idx]
	if v.Kind() != n.k {
		return Value{}, faultf("arg%d has kind %s, expected %s",
			n.idx, v.Kind(), n.k)
	}
	return v, nil
}

type notNode struct {
	x evalNode
}

func (n *notNode) kind() Kind { return KindBool }
func (n *notNode) eval(f *firing) (Value, error) {
	v, err := n.x.eval(f)
	if err != nil {
		return Value{}, err
	}
	return BoolValue(!v.Bool()), nil
}

type negNode struct {
	x evalNode
}

func (n *negNode) kind() Kind { return KindInt }
func (n *negNode) eval(f *firing) (Value, error) {
	v, err := n.x.eval(f)
	if err != nil {
		return Value{}, err
	}
	return IntValue(-v.Int()), nil
}

type arithNode struct {
	op   string
	l, r evalNode
}

func (n *arithNode) kind() Kind { return KindInt }
func (n *arithNode) eval(f *firing) (Value, error) {
	left, err := n.l.eval(f)
	if err != nil {
		return Value{}, err
	}
	right, err := n.r.eval(f)
	if err != nil {
		return Value{}, err
	}
	a, b := left.Int(), right.Int()
	switch n.op {
	case "+":
		return IntValue(a + b), nil
	case "-":
		return IntValue(a - b), nil
	case "*":
		return IntValue(a * b), nil
	case "/":
		if b == 0 {
			return Value{}, faultf("division by zero")
		}
		return IntValue(a / b), nil
	case "%":
		if b == 0 {
			return Value{}, faultf("modulo by zero")
		}
		return IntValue(a % b), nil
	}
	return Value{}, faultf("unknown arithmetic operator %q", n.op)
}

type cmpNode struct {
	op   string
	l, r evalNode
}

func (n *cmpNode) kind() Kind { return KindBool }
func (n *cmpNode) eval(f *firing) (Value, error) {
	left, err := n.l.eval(f)
	if err != nil {
		return Value{}, err
	}
	right, err := n.r.eval(f)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case "==", "!=":
		var equal bool
		switch left.Kind() {
		case KindString:
			equal = left.Str() == right.Str()
		default:
			equal = left.Int() == right.Int()
		}
		return BoolValue(equal == (n.op == "==")), nil
	}
	a, b := left.Int(), right.Int()
	switch n.op {
	case "<":
		return BoolValue(a < b), nil
	case "<=":
		return BoolValue(a <= b), nil
	case ">":
		return BoolValue(a > b), nil
	case ">=":
		return BoolValue(a >= b), nil
	}
	return Value{}, faultf("unknown comparison operator %q", n.op)
}

// logicalNode evaluates && and || with short circuiting, so a
// guarded right operand never faults when the guard fails.
type logicalNode struct {
	and  bool
	l, r evalNode
}

func (n *logicalNode) kind() Kind { return KindBool }
func (n *logicalNode) eval(f *firing) (Value, error) {
	left, err := n.l.eval(f)
	if err != nil {
		return Value{}, err
	}
	if n.and && !left.Bool() {
		return BoolValue(false), nil
	}
	if !n.and && left.Bool() {
		return BoolValue(true), nil
	}
	return n.r.eval(f)
}

// compiledAction is one executable action of a clause.
type compiledAction interface {
	exec(f *firing) error
}

// defaultTraceAction is installed for clauses whose action
// block is empty: trace the probe identity and the timestamp.
type defaultTraceAction struct{}

func (defaultTraceAction) exec(f *firing) error {
	return f.eng.emit(fmt.Sprintf("%s %d", f.ev.Probe, f.ev.Timestamp))
}

type traceAction struct {
	arg evalNode
}

func (a *traceAction) exec(f *firing) error {
	v, err := a.arg.eval(f)
	if err != nil {
		return err
	}
	return f.eng.emit(v.String())
}

type printfAction struct {
	format string
	args   []evalNode
}

func (a *printfAction) exec(f *firing) error {
	operands := make([]interface{}, 0, len(a.args))
	for _, arg := range a.args {
		v, err := arg.eval(f)
		if err != nil {
			return err
		}
		switch v.Kind() {
		case KindString:
			operands = append(operands, v.Str())
		default:
			operands = append(operands, v.Int())
		}
	}
	return f.eng.emit(fmt.Sprintf(a.format, operands...))
}

type exitAction struct {
	code evalNode
}

func (a *exitAction) exec(f *firing) error {
	v, err := a.code.eval(f)
	if err != nil {
		return err
	}
	f.exit = true
	f.exitCode = v.Int()
	return nil
}

type clearAction struct {
	name string
}

func (a *clearAction) exec(f *firing) error {
	f.eng.store.clear(a.name)
	return nil
}

type aggAction struct {
	decl  *aggDecl
	keys  []evalNode
	value evalNode
}

func (a *aggAction) exec(f *firing) error {
	keys := make([]Value, 0, len(a.keys))
	for _, key := range a.keys {
		v, err := key.eval(f)
		if err != nil {
			return err
		}
		keys = append(keys, v)
	}
	var value int64
	if a.value != nil {
		v, err := a.value.eval(f)
		if err != nil {
			return err
		}
		value = v.Int()
	}
	f.eng.store.update(a.decl, keys, value)
	return nil
}
