package journal

import (
	"context"
	"log/slog"
	"time"
)

// sendTimeout bounds one sink write so a stuck database never stalls the
// supervisor loop.
const sendTimeout = 5 * time.Second

// EventType is the kind of capture lifecycle event.
type EventType string

const (
	EventStart       EventType = "start"
	EventStop        EventType = "stop"
	EventExit        EventType = "exit"    // exited without a stop request
	EventRestart     EventType = "restart" // autorestart spawned a new incarnation
	EventStartFailed EventType = "start_failed"
)

// Event is one capture lifecycle transition. SessionID ties the event to a
// single incarnation of the capture process (pid plus start instant).
type Event struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id"`
	Detail    string    `json:"detail,omitempty"`
}

// Sample is one resource measurement of the running capture process.
type Sample struct {
	At         time.Time `json:"at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	SessionID  string    `json:"session_id"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   int64     `json:"rss_bytes"`
	VMSBytes   int64     `json:"vms_bytes"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds"`
}

// Sink persists events and samples. Implementations must be safe for
// concurrent use.
type Sink interface {
	SendEvent(ctx context.Context, e Event) error
	SendSample(ctx context.Context, s Sample) error
	Close() error
}

// Reader loads journal contents back for post-flight reporting. Only SQL
// backed journals implement it; ClickHouse is a write-only telemetry sink.
type Reader interface {
	EventsSince(ctx context.Context, name string, since time.Time) ([]Event, error)
	SamplesSince(ctx context.Context, name string, since time.Time) ([]Sample, error)
}

// Journal fans records out to all configured sinks, best-effort: a sink
// failure is logged and never fails the lifecycle operation that caused it.
type Journal struct {
	sinks []Sink
	log   *slog.Logger
}

func New(log *slog.Logger, sinks ...Sink) *Journal {
	if log == nil {
		log = slog.Default()
	}
	return &Journal{sinks: sinks, log: log}
}

// Enabled reports whether any sink is configured.
func (j *Journal) Enabled() bool { return j != nil && len(j.sinks) > 0 }

// Event records a lifecycle event.
func (j *Journal) Event(e Event) {
	if !j.Enabled() {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for _, s := range j.sinks {
		if err := s.SendEvent(ctx, e); err != nil {
			j.log.Warn("journal event write failed", "type", e.Type, "err", err)
		}
	}
}

// Sample records a resource sample.
func (j *Journal) Sample(s Sample) {
	if !j.Enabled() {
		return
	}
	if s.At.IsZero() {
		s.At = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for _, sk := range j.sinks {
		if err := sk.SendSample(ctx, s); err != nil {
			j.log.Warn("journal sample write failed", "err", err)
		}
	}
}

// Close closes all sinks, returning the first error.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var first error
	for _, s := range j.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
