package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sebcam",
		Subsystem: "capture",
		Name:      "textfile_test_total",
		Help:      "Test counter.",
	})
	reg.MustRegister(c)
	c.Inc()
	return reg
}

func TestExportWritesTextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sebcamd.prom")
	e := NewTextfileExporter(TextfileConfig{Enabled: true, Path: path}, newTestRegistry(t))

	if err := e.Export(); err != nil {
		t.Fatalf("export: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read exported file: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "sebcam_capture_textfile_test_total 1") {
		t.Fatalf("exported file missing counter sample:\n%s", s)
	}
	if !strings.Contains(s, "# HELP sebcam_capture_textfile_test_total") {
		t.Fatalf("exported file missing HELP line:\n%s", s)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("expected mode 0644, got %v", info.Mode().Perm())
	}
}

func TestExportOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sebcamd.prom")
	e := NewTextfileExporter(TextfileConfig{Enabled: true, Path: path}, newTestRegistry(t))

	if err := e.Export(); err != nil {
		t.Fatalf("first export: %v", err)
	}
	if err := e.Export(); err != nil {
		t.Fatalf("second export: %v", err)
	}

	// No leftover temp files next to the published one.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, ent := range entries {
			names = append(names, ent.Name())
		}
		t.Fatalf("expected only the published file, found %v", names)
	}
}

func TestExportEmptyPath(t *testing.T) {
	e := NewTextfileExporter(TextfileConfig{Enabled: true}, prometheus.NewRegistry())
	if err := e.Export(); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStartStopFlushesOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sebcamd.prom")
	// Interval far beyond the test duration; only the shutdown flush writes.
	e := NewTextfileExporter(TextfileConfig{Enabled: true, Path: path, Interval: time.Hour}, newTestRegistry(t))

	e.Start(context.Background())
	e.Stop()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected flushed metrics file after Stop: %v", err)
	}
}

func TestDisabledExporterDoesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sebcamd.prom")
	e := NewTextfileExporter(TextfileConfig{Enabled: false, Path: path}, newTestRegistry(t))
	e.Start(context.Background())
	e.Stop()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("disabled exporter must not write, stat err: %v", err)
	}
}
