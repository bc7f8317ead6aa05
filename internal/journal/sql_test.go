package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteSink(t *testing.T) *SQLSink {
	t.Helper()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "journal.db")
	sink, err := NewSQLSink(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestSQLSinkEventRoundTrip(t *testing.T) {
	sink := newSQLiteSink(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).Truncate(time.Second)

	events := []Event{
		{At: base, Type: EventStart, Name: "sebcam", PID: 100, SessionID: "100:1", Detail: ""},
		{At: base.Add(10 * time.Second), Type: EventExit, Name: "sebcam", PID: 100, SessionID: "100:1", Detail: "exit status 1"},
		{At: base.Add(12 * time.Second), Type: EventRestart, Name: "sebcam", PID: 101, SessionID: "101:2", Detail: "restart #1"},
	}
	for _, e := range events {
		require.NoError(t, sink.SendEvent(ctx, e))
	}

	got, err := sink.EventsSince(ctx, "sebcam", base.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, EventStart, got[0].Type)
	assert.Equal(t, EventExit, got[1].Type)
	assert.Equal(t, "exit status 1", got[1].Detail)
	assert.Equal(t, EventRestart, got[2].Type)
	assert.Equal(t, 101, got[2].PID)

	// The since bound is inclusive of later records only.
	tail, err := sink.EventsSince(ctx, "sebcam", base.Add(11*time.Second))
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, EventRestart, tail[0].Type)
}

func TestSQLSinkSampleRoundTrip(t *testing.T) {
	sink := newSQLiteSink(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).Truncate(time.Second)

	for i := 0; i < 5; i++ {
		s := Sample{
			At:         base.Add(time.Duration(i) * time.Second),
			Name:       "sebcam",
			PID:        100,
			SessionID:  "100:1",
			CPUPercent: float64(i) * 1.5,
			RSSBytes:   1 << 20,
			VMSBytes:   8 << 20,
			NumThreads: 4,
			NumFDs:     12,
		}
		require.NoError(t, sink.SendSample(ctx, s))
	}

	got, err := sink.SamplesSince(ctx, "sebcam", base.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.InDelta(t, 6.0, got[4].CPUPercent, 0.001)
	assert.Equal(t, int64(1<<20), got[0].RSSBytes)
	assert.Equal(t, 4, got[0].NumThreads)
	assert.Equal(t, 12, got[0].NumFDs)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].At.Before(got[i-1].At), "samples should come back in time order")
	}
}

func TestSQLSinkFiltersByName(t *testing.T) {
	sink := newSQLiteSink(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, sink.SendEvent(ctx, Event{At: now, Type: EventStart, Name: "sebcam", PID: 1}))
	require.NoError(t, sink.SendEvent(ctx, Event{At: now, Type: EventStart, Name: "other", PID: 2}))

	got, err := sink.EventsSince(ctx, "sebcam", now.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sebcam", got[0].Name)
}

func TestSQLSinkBarePathDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.db")
	sink, err := NewSQLSink(path)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	require.NoError(t, sink.SendEvent(context.Background(), Event{Type: EventStart, Name: "sebcam", At: time.Now()}))
	got, err := sink.EventsSince(context.Background(), "sebcam", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
