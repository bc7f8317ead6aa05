package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSink collects records in memory and can be told to fail.
type mockSink struct {
	mu      sync.Mutex
	events  []Event
	samples []Sample
	fail    bool
	closed  bool
}

func (m *mockSink) SendEvent(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockSink) SendSample(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.samples = append(m.samples, s)
	return nil
}

func (m *mockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJournalFanout(t *testing.T) {
	a := &mockSink{}
	b := &mockSink{}
	j := New(testLogger(), a, b)
	require.True(t, j.Enabled())

	j.Event(Event{Type: EventStart, Name: "sebcam", PID: 42, SessionID: "42:1"})
	j.Sample(Sample{Name: "sebcam", SessionID: "42:1", CPUPercent: 12.5})

	for _, m := range []*mockSink{a, b} {
		assert.Len(t, m.events, 1)
		assert.Len(t, m.samples, 1)
		assert.Equal(t, EventStart, m.events[0].Type)
		assert.False(t, m.events[0].At.IsZero(), "At should be defaulted")
	}
	require.NoError(t, j.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestJournalBestEffortOnSinkFailure(t *testing.T) {
	bad := &mockSink{fail: true}
	good := &mockSink{}
	j := New(testLogger(), bad, good)

	// A failing sink must not prevent the healthy one from recording.
	j.Event(Event{Type: EventStop, Name: "sebcam"})
	assert.Empty(t, bad.events)
	assert.Len(t, good.events, 1)
}

func TestJournalDisabled(t *testing.T) {
	j := New(testLogger())
	assert.False(t, j.Enabled())
	// No sinks: records are dropped without panics.
	j.Event(Event{Type: EventStart})
	j.Sample(Sample{})
	assert.NoError(t, j.Close())

	var nilJournal *Journal
	assert.False(t, nilJournal.Enabled())
	assert.NoError(t, nilJournal.Close())
}

func TestJournalPreservesExplicitTimestamp(t *testing.T) {
	m := &mockSink{}
	j := New(testLogger(), m)
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	j.Event(Event{Type: EventExit, At: at})
	require.Len(t, m.events, 1)
	assert.Equal(t, at, m.events[0].At)
}
