package journal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// CHSink streams the journal to ClickHouse over the native protocol. It is
// write-only; post-flight reports read from a SQL journal instead. Intended
// for ground-test rigs that archive telemetry across many runs.
type CHSink struct {
	conn driver.Conn
}

// NewCHSink connects using a DSN of the form
// clickhouse://host:9000?database=sebcam&username=default&password=secret
// and creates the journal tables when missing.
func NewCHSink(dsn string) (*CHSink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid clickhouse DSN: %w", err)
	}
	q := u.Query()
	database := q.Get("database")
	if database == "" {
		database = "default"
	}
	username := q.Get("username")
	if username == "" {
		username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{u.Host},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: q.Get("password"),
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	s := &CHSink{conn: conn}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *CHSink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS capture_events (
			at DateTime64(9),
			event String,
			name String,
			pid Int64,
			session String,
			detail String
		) ENGINE = MergeTree() ORDER BY (name, at)`,
		`CREATE TABLE IF NOT EXISTS capture_samples (
			at DateTime64(9),
			name String,
			pid Int64,
			session String,
			cpu_percent Float64,
			rss_bytes Int64,
			vms_bytes Int64,
			num_threads Int32,
			num_fds Int32
		) ENGINE = MergeTree() ORDER BY (name, at)`,
	}
	for _, q := range stmts {
		if err := s.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("create clickhouse schema: %w", err)
		}
	}
	return nil
}

func (s *CHSink) SendEvent(ctx context.Context, e Event) error {
	err := s.conn.Exec(ctx,
		`INSERT INTO capture_events (at, event, name, pid, session, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		e.At, string(e.Type), e.Name, int64(e.PID), e.SessionID, e.Detail)
	if err != nil {
		return fmt.Errorf("insert capture event: %w", err)
	}
	return nil
}

func (s *CHSink) SendSample(ctx context.Context, smp Sample) error {
	err := s.conn.Exec(ctx,
		`INSERT INTO capture_samples (at, name, pid, session, cpu_percent, rss_bytes, vms_bytes, num_threads, num_fds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		smp.At, smp.Name, int64(smp.PID), smp.SessionID, smp.CPUPercent, smp.RSSBytes, smp.VMSBytes, smp.NumThreads, smp.NumFDs)
	if err != nil {
		return fmt.Errorf("insert capture sample: %w", err)
	}
	return nil
}

func (s *CHSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsClickHouseDSN reports whether dsn selects the ClickHouse sink.
func IsClickHouseDSN(dsn string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(dsn)), "clickhouse://")
}
