package journal

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSQLSinkPostgres_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := NewSQLSink(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	base := time.Now().UTC().Truncate(time.Second)
	events := []Event{
		{At: base, Type: EventStart, Name: "sebcam", PID: 2211, SessionID: "2211:9"},
		{At: base.Add(time.Second), Type: EventStop, Name: "sebcam", PID: 2211, SessionID: "2211:9", Detail: "requested"},
	}
	for _, e := range events {
		if err := sink.SendEvent(ctx, e); err != nil {
			t.Fatalf("Failed to send event: %v", err)
		}
	}
	if err := sink.SendSample(ctx, Sample{
		At: base, Name: "sebcam", PID: 2211, SessionID: "2211:9",
		CPUPercent: 37.5, RSSBytes: 64 << 20, VMSBytes: 128 << 20, NumThreads: 6, NumFDs: 20,
	}); err != nil {
		t.Fatalf("Failed to send sample: %v", err)
	}

	gotEvents, err := sink.EventsSince(ctx, "sebcam", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Failed to read events back: %v", err)
	}
	if len(gotEvents) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(gotEvents))
	}
	if gotEvents[0].Type != EventStart || gotEvents[1].Type != EventStop {
		t.Errorf("Events out of order: %v, %v", gotEvents[0].Type, gotEvents[1].Type)
	}
	if gotEvents[1].Detail != "requested" {
		t.Errorf("Detail not preserved: %q", gotEvents[1].Detail)
	}

	gotSamples, err := sink.SamplesSince(ctx, "sebcam", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Failed to read samples back: %v", err)
	}
	if len(gotSamples) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(gotSamples))
	}
	if gotSamples[0].RSSBytes != 64<<20 {
		t.Errorf("RSS not preserved: %d", gotSamples[0].RSSBytes)
	}
}
