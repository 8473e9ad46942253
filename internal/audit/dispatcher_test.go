package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateSink struct {
	gate chan struct{}
	got  chan Event
}

func (s *gateSink) Emit(_ context.Context, e Event) {
	<-s.gate
	s.got <- e
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) { panic("sink exploded") }

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, nil)
	assert.Nil(t, d)

	d.Emit(context.Background(), Event{EventType: "login_success"})
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink, nil)

	for _, typ := range []string{"a", "b", "c"} {
		d.Emit(context.Background(), Event{EventType: typ})
	}
	d.Close()

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, (<-sink.Events()).EventType)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, uint64(3), d.Delivered())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, nil)

	// First event is held inside the sink, second fills the buffer.
	d.Emit(context.Background(), Event{EventType: "held"})
	require.Eventually(t, func() bool { return len(d.ch) == 0 }, time.Second, time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "buffered"})
	d.Emit(context.Background(), Event{EventType: "dropped"})

	assert.Equal(t, uint64(1), d.Dropped())
	close(sink.gate)
	d.Close()
	assert.Equal(t, uint64(2), d.Delivered())
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink, nil)

	d.Emit(context.Background(), Event{EventType: "held"})
	require.Eventually(t, func() bool { return len(d.ch) == 0 }, time.Second, time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "buffered"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: "late"})
	assert.Equal(t, uint64(1), d.Dropped())

	close(sink.gate)
	d.Close()
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, panicSink{}, logger)

	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Close()

	assert.Zero(t, d.Delivered())
	assert.Equal(t, 2, strings.Count(buf.String(), "audit sink panicked"))
}

func TestEmitAfterCloseIsIgnored(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink, nil)
	d.Close()
	d.Close()

	d.Emit(context.Background(), Event{EventType: "late"})
	assert.Empty(t, sink.Events())
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "authorize_denied", UserID: "u1", Permission: "users:read:list"})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "authorize_denied", decoded["event_type"])
	assert.Equal(t, "users:read:list", decoded["permission"])
	assert.NotContains(t, decoded, "session_id")

	NewJSONWriterSink(nil).Emit(context.Background(), Event{})
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Emit(context.Background(), Event{EventType: "login_success", Success: true, UserID: "u1"})
	sink.Emit(context.Background(), Event{EventType: "login_failure", Error: "invalid_credentials", Metadata: map[string]string{"reason": "password"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"level":"INFO"`)
	assert.Contains(t, lines[1], `"level":"WARN"`)
	assert.Contains(t, lines[1], `"reason":"password"`)
}
