// Package replay loads recorded probe catalogs and event
// streams from JSON lines files, for running trace scripts
// against captured data instead of a live event source.
//
// Each line of a recording is one JSON object with either a
// "probe" member declaring a catalog entry or an "event"
// member carrying one event:
//
//	{"probe": {"provider": "syscall", "function": "open",
//	           "name": "entry", "args": ["string", "int"]}}
//	{"event": {"provider": "syscall", "function": "open",
//	           "name": "entry", "timestamp": 1000, "pid": 42,
//	           "args": ["/etc/passwd", 3]}}
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/chaitin/tracescript"
)

type probeRecord struct {
	Provider string   `json:"provider"`
	Module   string   `json:"module"`
	Function string   `json:"function"`
	Name     string   `json:"name"`
	Args     []string `json:"args"`
}

type eventRecord struct {
	Provider  string        `json:"provider"`
	Module    string        `json:"module"`
	Function  string        `json:"function"`
	Name      string        `json:"name"`
	Timestamp int64         `json:"timestamp"`
	TID       uint32        `json:"tid"`
	PID       uint32        `json:"pid"`
	CPU       uint32        `json:"cpu"`
	Args      []interface{} `json:"args"`
}

type line struct {
	Probe *probeRecord `json:"probe"`
	Event *eventRecord `json:"event"`
}

// Feed is one loaded recording: the probe catalog declared by
// its probe lines and the events in recording order.
type Feed struct {
	probes []tracescript.ProbeInfo
	events []*tracescript.Event
}

// Load reads a recording from the reader.
func Load(r io.Reader) (*Feed, error) {
	feed := &Feed{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var record line
		if err := json.Unmarshal(text, &record); err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
		switch {
		case record.Probe != nil:
			info, err := record.Probe.convert()
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineno)
			}
			feed.probes = append(feed.probes, info)
		case record.Event != nil:
			ev, err := record.Event.convert()
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineno)
			}
			feed.events = append(feed.events, ev)
		default:
			return nil, errors.Errorf("line %d: neither probe nor event", lineno)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read recording")
	}
	return feed, nil
}

// LoadFile reads a recording from a file.
func LoadFile(path string) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open recording")
	}
	defer f.Close()
	return Load(f)
}

func (p *probeRecord) convert() (tracescript.ProbeInfo, error) {
	info := tracescript.ProbeInfo{
		Probe: tracescript.ProbeIdentity{
			Provider: p.Provider,
			Module:   p.Module,
			Function: p.Function,
			Name:     p.Name,
		},
	}
	for _, arg := range p.Args {
		kind, err := tracescript.ParseKind(arg)
		if err != nil {
			return tracescript.ProbeInfo{}, err
		}
		info.Args = append(info.Args, kind)
	}
	return info, nil
}

func (e *eventRecord) convert() (*tracescript.Event, error) {
	ev := &tracescript.Event{
		Probe: tracescript.ProbeIdentity{
			Provider: e.Provider,
			Module:   e.Module,
			Function: e.Function,
			Name:     e.Name,
		},
		Timestamp: e.Timestamp,
		TID:       e.TID,
		PID:       e.PID,
		CPU:       e.CPU,
	}
	for i, arg := range e.Args {
		switch v := arg.(type) {
		case float64:
			ev.Args = append(ev.Args, tracescript.IntValue(int64(v)))
		case string:
			ev.Args = append(ev.Args, tracescript.StringValue(v))
		case bool:
			ev.Args = append(ev.Args, tracescript.BoolValue(v))
		default:
			return nil, errors.Errorf("unsupported argument %d of kind %T", i, arg)
		}
	}
	return ev, nil
}

// Probes implements tracescript.Catalog.
func (f *Feed) Probes() []tracescript.ProbeInfo {
	return f.probes
}

// Events returns the recorded events in recording order.
func (f *Feed) Events() []*tracescript.Event {
	return f.events
}

// Stream plays the recorded events into a channel in order.
// The channel closes after the last event or when the context
// is cancelled.
func (f *Feed) Stream(rootCtx context.Context) <-chan *tracescript.Event {
	ch := make(chan *tracescript.Event)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-rootCtx.Done():
				return
			}
		}
	}()
	return ch
}
