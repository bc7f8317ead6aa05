package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// TextfileConfig holds configuration for the textfile exporter.
type TextfileConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

// TextfileExporter periodically writes all gathered metrics to a .prom file
// in the text exposition format. A node_exporter textfile collector on the
// same host picks the file up, which keeps the supervisor itself free of any
// listening socket. Writes go through a temp file and rename so scrapers
// never observe a partial file.
type TextfileExporter struct {
	enabled  bool
	path     string
	interval time.Duration
	gatherer prometheus.Gatherer
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTextfileExporter creates an exporter writing g's metrics to cfg.Path.
func NewTextfileExporter(cfg TextfileConfig, g prometheus.Gatherer) *TextfileExporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 15 * time.Second
	}
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &TextfileExporter{
		enabled:  cfg.Enabled,
		path:     cfg.Path,
		interval: interval,
		gatherer: g,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic exports until ctx is done or Stop is called. The
// final state is flushed once more on shutdown.
func (e *TextfileExporter) Start(ctx context.Context) {
	if !e.enabled || e.path == "" {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.exportLogged()
				return
			case <-e.stopCh:
				e.exportLogged()
				return
			case <-ticker.C:
				e.exportLogged()
			}
		}
	}()
}

// Stop stops the export loop and waits for it to finish.
func (e *TextfileExporter) Stop() {
	if !e.enabled || e.path == "" {
		return
	}
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *TextfileExporter) exportLogged() {
	if err := e.Export(); err != nil {
		slog.Warn("failed to export metrics textfile", "path", e.path, "error", err)
	}
}

// Export writes the current metrics to the configured path.
func (e *TextfileExporter) Export() error {
	if e.path == "" {
		return fmt.Errorf("textfile export path is empty")
	}
	mfs, err := e.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(e.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp metrics file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp metrics file: %w", err)
	}
	// CreateTemp uses 0600; scrapers run as a different user.
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return fmt.Errorf("publish metrics file: %w", err)
	}
	return nil
}
