package tracescript

import (
	"bufio"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// WriterSink writes lines to an io.Writer through a buffer,
// serializing concurrent writers so each line stays intact.
type WriterSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriterSink creates a sink over the writer.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w)}
}

// NewStdoutSink creates a sink over standard output.
func NewStdoutSink() *WriterSink {
	return NewWriterSink(os.Stdout)
}

// WriteLine implements Sink.
func (s *WriterSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// Flush implements Sink.
func (s *WriterSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// SpoolSink decouples event threads from a slow inner sink
// through a bounded spool. When the spool is full the oldest
// spooled line is dropped, so dispatch latency stays bounded
// at the price of losing output under sustained overload.
type SpoolSink struct {
	inner   Sink
	lineCh  chan string
	flushCh chan chan error
	closeCh chan struct{}
	doneCh  chan struct{}
	once    sync.Once

	dropped uint64
	err     atomic.Value
}

// NewSpoolSink creates a spool of the given capacity in front
// of the inner sink. Capacity must be positive.
func NewSpoolSink(inner Sink, capacity int) *SpoolSink {
	s := &SpoolSink{
		inner:   inner,
		lineCh:  make(chan string, capacity),
		flushCh: make(chan chan error),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *SpoolSink) run() {
	defer close(s.doneCh)
	for {
		select {
		case line := <-s.lineCh:
			s.write(line)
		case req := <-s.flushCh:
			s.drain()
			err := s.inner.Flush()
			s.record(err)
			req <- err
		case <-s.closeCh:
			s.drain()
			s.record(s.inner.Flush())
			return
		}
	}
}

func (s *SpoolSink) drain() {
	for {
		select {
		case line := <-s.lineCh:
			s.write(line)
		default:
			return
		}
	}
}

func (s *SpoolSink) write(line string) {
	s.record(s.inner.WriteLine(line))
}

func (s *SpoolSink) record(err error) {
	if err == nil {
		return
	}
	// Keep the first failure only.
	s.err.CompareAndSwap(nil, err)
}

func (s *SpoolSink) failure() error {
	if err := s.err.Load(); err != nil {
		return err.(error)
	}
	return nil
}

// WriteLine spools one line, dropping the oldest spooled line
// when the spool is full. A past inner sink failure is
// reported instead of spooling further.
func (s *SpoolSink) WriteLine(line string) error {
	if err := s.failure(); err != nil {
		return err
	}
	for {
		select {
		case s.lineCh <- line:
			return nil
		default:
		}
		select {
		case <-s.lineCh:
			atomic.AddUint64(&s.dropped, 1)
		default:
		}
	}
}

// Flush drains the spool into the inner sink and flushes it.
func (s *SpoolSink) Flush() error {
	req := make(chan error, 1)
	select {
	case s.flushCh <- req:
		return <-req
	case <-s.doneCh:
		if err := s.failure(); err != nil {
			return err
		}
		return errors.New("spool sink closed")
	}
}

// Close drains the spool, flushes the inner sink and stops
// the spool goroutine.
func (s *SpoolSink) Close() error {
	s.once.Do(func() { close(s.closeCh) })
	<-s.doneCh
	return s.failure()
}

// Dropped returns the number of lines lost to overload.
func (s *SpoolSink) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}
