// Package tracescript is the compiler and execution engine of
// the trace script language developed by Chaitin Tech. A
// script declares probe clauses; the engine matches fired
// events against compiled clauses, evaluates predicates and
// actions, and maintains aggregations across concurrent
// firings.
//
// The actual instrumentation mechanism is not part of this
// package. An embedding system supplies a Catalog of known
// probes and feeds concrete events into the engine, either by
// calling Dispatch from its own source threads or by handing
// per-CPU channels to Attach.
package tracescript

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ProbeIdentity is the concrete identity of one probe, the
// (provider, module, function, name) tuple.
type ProbeIdentity struct {
	Provider string
	Module   string
	Function string
	Name     string
}

// String renders the identity in specifier form.
func (id ProbeIdentity) String() string {
	return id.Provider + ":" + id.Module + ":" +
		id.Function + ":" + id.Name
}

// Kind is the type of a runtime value. The language has
// integers, strings and booleans only.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindString
	KindBool
)

// String returns the language level name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// ParseKind converts a catalog argument type name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "int", "i32", "i64", "u32", "u64":
		return KindInt, nil
	case "string", "str":
		return KindString, nil
	case "bool", "boolean":
		return KindBool, nil
	default:
		return KindInvalid, fmt.Errorf("unknown argument type %q", name)
	}
}

// Value is a tagged scalar produced by expression evaluation
// and carried in event argument vectors.
type Value struct {
	kind Kind
	num  int64
	str  string
}

// IntValue wraps an integer value.
func IntValue(v int64) Value { return Value{kind: KindInt, num: v} }

// StringValue wraps a string value.
func StringValue(v string) Value { return Value{kind: KindString, str: v} }

// BoolValue wraps a boolean value.
func BoolValue(v bool) Value {
	var num int64
	if v {
		num = 1
	}
	return Value{kind: KindBool, num: num}
}

// Kind returns the kind tag of the value.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload. Valid for KindInt only.
func (v Value) Int() int64 { return v.num }

// Str returns the string payload. Valid for KindString only.
func (v Value) Str() string { return v.str }

// Bool returns the boolean payload. Valid for KindBool only.
func (v Value) Bool() bool { return v.num != 0 }

// String renders the value the way trace() prints it.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.num)
	case KindString:
		return v.str
	case KindBool:
		if v.num != 0 {
			return "true"
		}
		return "false"
	default:
		return "<invalid>"
	}
}

// Event is a single runtime occurrence supplied by the event
// source. It is transient: the engine never retains it past
// one dispatch cycle except through explicit trace or
// aggregation actions.
type Event struct {
	Probe     ProbeIdentity
	Timestamp int64 // nanoseconds
	TID       uint32
	PID       uint32
	CPU       uint32
	Args      []Value
}

// ProbeInfo is one entry of the probe catalog: a concrete
// identity together with its argument kinds.
type ProbeInfo struct {
	Probe ProbeIdentity
	Args  []Kind
}

// Catalog is the read-only set of probes known to the event
// source, consulted at resolution time for specifier
// expansion and argument typing.
type Catalog interface {
	Probes() []ProbeInfo
}

// CatalogFunc adapts a plain function to the Catalog
// interface.
type CatalogFunc func() []ProbeInfo

// Probes implements Catalog.
func (f CatalogFunc) Probes() []ProbeInfo { return f() }

// Sink consumes trace output. WriteLine must be safe for
// concurrent use and each line must be emitted atomically;
// ordering across concurrently emitted lines is unspecified.
type Sink interface {
	WriteLine(line string) error
	Flush() error
}

type option struct {
	logger          *zap.Logger
	sink            Sink
	deferredBinding bool
}

// Option configures compilation and the engine.
type Option func(*option)

// WithLogger specifies the logger for the engine. The
// default value is zap.L().
func WithLogger(logger *zap.Logger) Option {
	return func(opt *option) {
		opt.logger = logger
	}
}

// WithSink specifies the output sink of trace lines and
// aggregation snapshots. The default sink writes to standard
// output.
func WithSink(sink Sink) Option {
	return func(opt *option) {
		opt.sink = sink
	}
}

// WithDeferredBinding permits clauses whose specifiers match
// no catalog probe at compile time. Such clauses compile with
// an empty binding set; wildcard specifiers may still match
// events arriving for probes unknown to the catalog. The
// default is to reject them as semantic errors.
func WithDeferredBinding(deferred bool) Option {
	return func(opt *option) {
		opt.deferredBinding = deferred
	}
}

// WithOptions aggregate a set of options together.
func WithOptions(opts ...Option) Option {
	return func(o *option) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

// newOption creates the option with all default values.
func newOption() *option {
	return &option{
		logger: zap.L(),
	}
}
