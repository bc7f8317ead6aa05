package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSinkFromDSNSQLite(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "j.db")
	sink, err := NewSinkFromDSN(dsn)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	_, ok := sink.(*SQLSink)
	assert.True(t, ok, "sqlite DSN should build a SQLSink")
}

func TestIsClickHouseDSN(t *testing.T) {
	assert.True(t, IsClickHouseDSN("clickhouse://localhost:9000/captures"))
	assert.False(t, IsClickHouseDSN("postgres://localhost/captures"))
	assert.False(t, IsClickHouseDSN("sqlite:///var/lib/sebcamd/journal.db"))
	assert.False(t, IsClickHouseDSN("/var/lib/sebcamd/journal.db"))
}

func TestOpenReaderSQLite(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "r.db")

	sink, err := NewSinkFromDSN(dsn)
	require.NoError(t, err)
	require.NoError(t, sink.SendEvent(context.Background(), Event{Type: EventStart, Name: "sebcam", At: time.Now()}))
	require.NoError(t, sink.Close())

	reader, closeFn, err := OpenReader(dsn)
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	got, err := reader.EventsSince(context.Background(), "sebcam", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenReaderRejectsClickHouse(t *testing.T) {
	_, _, err := OpenReader("clickhouse://localhost:9000/captures")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write-only")
}
