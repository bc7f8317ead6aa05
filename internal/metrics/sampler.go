package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Snapshot holds one resource reading of the capture process.
type Snapshot struct {
	At         time.Time `json:"at"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   int64     `json:"rss_bytes"`
	VMSBytes   int64     `json:"vms_bytes"`
	NumThreads int       `json:"num_threads"`
	NumFDs     int       `json:"num_fds,omitempty"` // Unix only
}

// SamplerConfig holds configuration for resource sampling.
type SamplerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Sampler periodically reads CPU and memory usage of the capture process and
// publishes the readings as Prometheus gauges. Each reading is also handed to
// an observe callback so callers can journal it.
type Sampler struct {
	name     string
	enabled  bool
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	rssBytes   *prometheus.GaugeVec
	vmsBytes   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewSampler creates a sampler for the named capture process.
func NewSampler(cfg SamplerConfig, name string) *Sampler {
	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Sampler{
		name:     name,
		enabled:  cfg.Enabled,
		interval: interval,
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sebcam",
				Subsystem: "capture",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of the capture process.",
			}, []string{"name"},
		),
		rssBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sebcam",
				Subsystem: "capture",
				Name:      "memory_rss_bytes",
				Help:      "Resident set size of the capture process in bytes.",
			}, []string{"name"},
		),
		vmsBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sebcam",
				Subsystem: "capture",
				Name:      "memory_vms_bytes",
				Help:      "Virtual memory size of the capture process in bytes.",
			}, []string{"name"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sebcam",
				Subsystem: "capture",
				Name:      "num_threads",
				Help:      "Number of threads of the capture process.",
			}, []string{"name"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sebcam",
				Subsystem: "capture",
				Name:      "num_fds",
				Help:      "Number of open file descriptors of the capture process (Unix only).",
			}, []string{"name"},
		),
	}
}

// RegisterMetrics registers the sampler gauges with the provided registerer.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	collectors := []prometheus.Collector{s.cpuPercent, s.rssBytes, s.vmsBytes, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. lookup reports the PID to sample and
// whether a process is currently running; observe (optional) receives every
// successful reading. Start returns immediately; sampling runs until ctx is
// done or Stop is called.
func (s *Sampler) Start(ctx context.Context, lookup func() (int, bool), observe func(Snapshot)) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sampleOnce(lookup, observe)
			}
		}
	}()
}

// Stop stops sampling and waits for the collection goroutine to exit.
func (s *Sampler) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sampler) sampleOnce(lookup func() (int, bool), observe func(Snapshot)) {
	pid, ok := lookup()
	if !ok || pid <= 0 {
		s.clear()
		return
	}
	snap, err := Probe(pid)
	if err != nil {
		slog.Debug("failed to sample capture process", "name", s.name, "pid", pid, "error", err)
		s.clear()
		return
	}
	s.cpuPercent.WithLabelValues(s.name).Set(snap.CPUPercent)
	s.rssBytes.WithLabelValues(s.name).Set(float64(snap.RSSBytes))
	s.vmsBytes.WithLabelValues(s.name).Set(float64(snap.VMSBytes))
	s.numThreads.WithLabelValues(s.name).Set(float64(snap.NumThreads))
	if runtime.GOOS != "windows" && snap.NumFDs > 0 {
		s.numFDs.WithLabelValues(s.name).Set(float64(snap.NumFDs))
	}
	if observe != nil {
		observe(snap)
	}
}

// clear drops the gauges so a dead process does not keep reporting its last
// reading.
func (s *Sampler) clear() {
	s.cpuPercent.DeleteLabelValues(s.name)
	s.rssBytes.DeleteLabelValues(s.name)
	s.vmsBytes.DeleteLabelValues(s.name)
	s.numThreads.DeleteLabelValues(s.name)
	if runtime.GOOS != "windows" {
		s.numFDs.DeleteLabelValues(s.name)
	}
}

// Probe reads a single resource snapshot of the given PID.
func Probe(pid int) (Snapshot, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open process %d: %w", pid, err)
	}

	snap := Snapshot{At: time.Now(), PID: pid}

	// CPUPercent measures usage since the previous call for this process
	// handle; the first reading covers the whole process lifetime.
	if cpu, err := proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read memory info for pid %d: %w", pid, err)
	}
	snap.RSSBytes = int64(memInfo.RSS)
	snap.VMSBytes = int64(memInfo.VMS)

	if n, err := proc.NumThreads(); err == nil {
		snap.NumThreads = int(n)
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			snap.NumFDs = int(n)
		}
	}
	return snap, nil
}
