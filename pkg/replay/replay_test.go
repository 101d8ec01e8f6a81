package replay

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chaitin/tracescript"
)

const testRecording = `{"probe": {"provider": "syscall", "function": "open", "name": "entry", "args": ["string", "int"]}}
{"probe": {"provider": "proc", "function": "exec", "name": "start", "args": ["string"]}}
{"event": {"provider": "syscall", "function": "open", "name": "entry", "timestamp": 1000, "pid": 42, "args": ["/etc/passwd", 3]}}
{"event": {"provider": "proc", "function": "exec", "name": "start", "timestamp": 2000, "tid": 7, "cpu": 1, "args": ["/bin/ls"]}}
`

// TestLoad checks catalog and event decoding.
func TestLoad(t *testing.T) {
	assert := assert.New(t)

	feed, err := Load(strings.NewReader(testRecording))
	assert.NoError(err)
	if err != nil {
		return
	}

	probes := feed.Probes()
	assert.Equal(2, len(probes))
	assert.Equal("syscall::open:entry", probes[0].Probe.String())
	assert.Equal([]tracescript.Kind{
		tracescript.KindString, tracescript.KindInt}, probes[0].Args)

	events := feed.Events()
	assert.Equal(2, len(events))
	ev := events[0]
	assert.Equal(int64(1000), ev.Timestamp)
	assert.Equal(uint32(42), ev.PID)
	assert.Equal("/etc/passwd", ev.Args[0].Str())
	assert.Equal(int64(3), ev.Args[1].Int())
	ev = events[1]
	assert.Equal(uint32(7), ev.TID)
	assert.Equal(uint32(1), ev.CPU)
}

// TestLoadErrors checks that malformed recordings report the
// offending line.
func TestLoadErrors(t *testing.T) {
	assert := assert.New(t)

	for _, tc := range []string{
		"{\"probe\": {\"args\": [\"int\"]}}\nnot json\n",
		"{\"neither\": {}}\n",
		"{\"probe\": {\"args\": [\"float\"]}}\n",
		"{\"event\": {\"args\": [[1]]}}\n",
	} {
		_, err := Load(strings.NewReader(tc))
		assert.Error(err, tc)
	}

	_, err := Load(strings.NewReader("{}\n{\"neither\": true}"))
	assert.Error(err)
	assert.Contains(err.Error(), "line 1")
}

// TestStream checks event playback order and cancellation.
func TestStream(t *testing.T) {
	assert := assert.New(t)

	feed, err := Load(strings.NewReader(testRecording))
	assert.NoError(err)
	if err != nil {
		return
	}

	var played []*tracescript.Event
	for ev := range feed.Stream(context.Background()) {
		played = append(played, ev)
	}
	assert.Equal(2, len(played))
	assert.Equal(int64(1000), played[0].Timestamp)

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	count := 0
	for range feed.Stream(cancelCtx) {
		count++
	}
	assert.LessOrEqual(count, 2, "cancelled stream ends early")
}
