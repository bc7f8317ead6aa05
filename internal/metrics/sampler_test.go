package metrics

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func hasFamily(t *testing.T, reg *prometheus.Registry, name string) bool {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return true
		}
	}
	return false
}

func TestProbeSelf(t *testing.T) {
	snap, err := Probe(os.Getpid())
	if err != nil {
		t.Fatalf("probe self: %v", err)
	}
	if snap.PID != os.Getpid() {
		t.Fatalf("pid mismatch: %d", snap.PID)
	}
	if snap.RSSBytes <= 0 {
		t.Fatalf("expected positive RSS, got %d", snap.RSSBytes)
	}
	if snap.NumThreads < 1 {
		t.Fatalf("expected at least one thread, got %d", snap.NumThreads)
	}
	if snap.At.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestProbeNoSuchProcess(t *testing.T) {
	// PID 2147483647 exceeds the default pid_max on Linux.
	if _, err := Probe(1<<31 - 1); err == nil {
		t.Fatal("expected error probing nonexistent pid")
	}
}

func TestSamplerCollectsAndClears(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSampler(SamplerConfig{Enabled: true, Interval: 20 * time.Millisecond}, "sebcam")
	if err := s.RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	var alive atomic.Bool
	alive.Store(true)
	var observed atomic.Int64
	lookup := func() (int, bool) {
		if alive.Load() {
			return os.Getpid(), true
		}
		return 0, false
	}
	observe := func(snap Snapshot) {
		if snap.RSSBytes > 0 {
			observed.Add(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, lookup, observe)
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return observed.Load() > 0 })
	if !hasFamily(t, reg, "sebcam_capture_memory_rss_bytes") {
		t.Fatal("expected RSS gauge to be published while target runs")
	}

	// Once the target is gone the series must disappear.
	alive.Store(false)
	waitFor(t, 2*time.Second, func() bool {
		return !hasFamily(t, reg, "sebcam_capture_memory_rss_bytes")
	})
}

func TestSamplerDisabled(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: false}, "sebcam")
	if err := s.RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register on disabled sampler: %v", err)
	}
	// Start and Stop are no-ops when disabled.
	s.Start(context.Background(), func() (int, bool) { return 0, false }, nil)
	s.Stop()
}

func TestSamplerDefaultInterval(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true}, "sebcam")
	if s.interval != 5*time.Second {
		t.Fatalf("expected default interval 5s, got %v", s.interval)
	}
}
