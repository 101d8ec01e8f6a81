package tracescript

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stats are the dispatch counters of an engine, readable at
// any time while the engine runs.
type Stats struct {
	// Dispatched counts events offered to the engine,
	// including those matching no clause.
	Dispatched uint64

	// Fired counts clause executions, predicate included.
	Fired uint64

	// Faults counts clause executions aborted by a runtime
	// fault.
	Faults uint64
}

// Engine executes a compiled program against a stream of
// events. Dispatch may be invoked concurrently from any
// number of event source threads; the engine itself never
// owns the source.
type Engine struct {
	program *Program
	opt     *option
	store   *Store

	stopped  uint32
	inflight sync.WaitGroup
	exitOnce sync.Once
	exitCh   chan struct{}
	exitCode int64
	doneCh   chan struct{}

	dispatched uint64
	fired      uint64
	faults     uint64

	sinkErrOnce sync.Once
	sinkErr     error

	firingPool sync.Pool
}

// New creates an engine running the program under the given
// context and errgroup. The BEGIN clauses fire synchronously
// before New returns; the engine shuts down when the context
// is cancelled or an exit() action runs, firing END clauses
// and emitting the final aggregation state before the group
// goroutine exits.
func New(
	rootCtx context.Context, group *errgroup.Group,
	program *Program, options ...Option,
) (*Engine, error) {
	opt := newOption()
	WithOptions(options...)(opt)
	if opt.sink == nil {
		opt.sink = NewStdoutSink()
	}
	eng := &Engine{
		program: program,
		opt:     opt,
		store:   newStore(program),
		exitCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	eng.firingPool.New = func() interface{} { return &firing{} }

	for _, clause := range program.begin {
		eng.fireClause(clause, beginEvent())
	}

	group.Go(func() error {
		select {
		case <-rootCtx.Done():
		case <-eng.exitCh:
		}
		atomic.StoreUint32(&eng.stopped, 1)
		eng.inflight.Wait()
		err := eng.finalize()
		close(eng.doneCh)
		return err
	})
	return eng, nil
}

func beginEvent() *Event {
	return &Event{
		Probe:     ProbeIdentity{Provider: "tracescript", Name: "BEGIN"},
		Timestamp: time.Now().UnixNano(),
	}
}

func endEvent() *Event {
	return &Event{
		Probe:     ProbeIdentity{Provider: "tracescript", Name: "END"},
		Timestamp: time.Now().UnixNano(),
	}
}

// Dispatch offers one event to the engine, executing every
// clause matching its probe identity in script declaration
// order. It returns false when the engine has stopped and the
// event was discarded.
func (eng *Engine) Dispatch(ev *Event) bool {
	if atomic.LoadUint32(&eng.stopped) != 0 {
		return false
	}
	eng.inflight.Add(1)
	defer eng.inflight.Done()
	if atomic.LoadUint32(&eng.stopped) != 0 {
		return false
	}
	atomic.AddUint64(&eng.dispatched, 1)
	for _, clause := range eng.program.table.lookup(ev.Probe) {
		eng.fireClause(clause, ev)
	}
	return true
}

// Attach spawns a worker in the group draining the channel
// into Dispatch until the channel closes or the engine stops.
func (eng *Engine) Attach(rootCtx context.Context, group *errgroup.Group, ch <-chan *Event) {
	group.Go(func() error {
		for {
			select {
			case <-rootCtx.Done():
				return nil
			case <-eng.doneCh:
				return nil
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				eng.Dispatch(ev)
			}
		}
	})
}

// fireClause runs the predicate and actions of one clause on
// one event. Runtime faults abort the clause but never the
// engine; sink failures stop the whole engine.
func (eng *Engine) fireClause(clause *compiledClause, ev *Event) {
	atomic.AddUint64(&eng.fired, 1)
	f := eng.firingPool.Get().(*firing)
	*f = firing{ev: ev, clause: clause, eng: eng}
	defer eng.firingPool.Put(f)

	err := eng.runClause(f)
	if f.exit {
		eng.requestExit(f.exitCode)
	}
	if err == nil {
		return
	}
	var fault *runtimeFault
	if errors.As(err, &fault) {
		eng.reportFault(clause, fault)
		return
	}
	// Sink failure. Nothing sensible can run any further.
	eng.failSink(err)
}

func (eng *Engine) runClause(f *firing) error {
	if f.clause.predicate != nil {
		v, err := f.clause.predicate.eval(f)
		if err != nil {
			return err
		}
		if !v.Bool() {
			return nil
		}
	}
	for _, action := range f.clause.actions {
		if err := action.exec(f); err != nil {
			return err
		}
	}
	return nil
}

func (eng *Engine) reportFault(clause *compiledClause, fault *runtimeFault) {
	atomic.AddUint64(&eng.faults, 1)
	eng.opt.logger.Warn("runtime fault",
		zap.Int("line", clause.line), zap.Int("column", clause.column),
		zap.String("fault", fault.msg))
	line := errors.Errorf(
		"tracescript: runtime fault at line %d column %d: %s",
		clause.line, clause.column, fault.msg).Error()
	if err := eng.opt.sink.WriteLine(line); err != nil {
		eng.failSink(err)
	}
}

func (eng *Engine) failSink(err error) {
	eng.sinkErrOnce.Do(func() {
		eng.sinkErr = errors.Wrap(err, "write sink")
		eng.opt.logger.Error("sink failure", zap.Error(err))
	})
	eng.requestExit(1)
}

// emit writes one output line.
func (eng *Engine) emit(line string) error {
	return eng.opt.sink.WriteLine(line)
}

// requestExit initiates shutdown with the given exit code.
// The first request wins. The stopped flag is raised here, not
// in the shutdown goroutine, so no event dispatched after the
// exit decision can start a new firing.
func (eng *Engine) requestExit(code int64) {
	eng.exitOnce.Do(func() {
		atomic.StoreInt64(&eng.exitCode, code)
		atomic.StoreUint32(&eng.stopped, 1)
		close(eng.exitCh)
	})
}

// Stop initiates shutdown with exit code zero, as if the
// script had executed exit(0).
func (eng *Engine) Stop() {
	eng.requestExit(0)
}

// finalize fires the END clauses and writes the final state
// of every aggregation, then flushes the sink.
func (eng *Engine) finalize() error {
	for _, clause := range eng.program.end {
		eng.fireClause(clause, endEvent())
	}
	for _, line := range eng.store.render() {
		if err := eng.emit(line); err != nil {
			eng.failSink(err)
			break
		}
	}
	if err := eng.opt.sink.Flush(); err != nil {
		eng.failSink(err)
	}
	return eng.sinkErr
}

// Done is closed after shutdown has fully completed, END
// clauses and final output included.
func (eng *Engine) Done() <-chan struct{} { return eng.doneCh }

// ExitCode returns the code of the exit() action that stopped
// the engine, zero otherwise. Meaningful once Done is closed.
func (eng *Engine) ExitCode() int64 {
	return atomic.LoadInt64(&eng.exitCode)
}

// Snapshot captures the current state of every aggregation
// without disturbing concurrent updates.
func (eng *Engine) Snapshot() []AggregationSnapshot {
	return eng.store.Snapshot()
}

// Stats returns the current dispatch counters.
func (eng *Engine) Stats() Stats {
	return Stats{
		Dispatched: atomic.LoadUint64(&eng.dispatched),
		Fired:      atomic.LoadUint64(&eng.fired),
		Faults:     atomic.LoadUint64(&eng.faults),
	}
}
