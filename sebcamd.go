package sebcamd

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/sebcam/sebcamd/internal/config"
	"github.com/sebcam/sebcamd/internal/metrics"
	"github.com/sebcam/sebcamd/internal/process"
	"github.com/sebcam/sebcamd/internal/report"
	"github.com/sebcam/sebcamd/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = supervisor.Status

type Config = cfg.FileConfig

type ReportOptions = report.Options

// Sentinel errors, matchable with errors.Is across the facade boundary.
var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotRunning     = supervisor.ErrNotRunning
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *supervisor.Supervisor }

func New(c *Config, log *slog.Logger) (*Supervisor, error) {
	inner, err := supervisor.New(c, log)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

func (s *Supervisor) Start(ctx context.Context) error   { return s.inner.Start(ctx) }
func (s *Supervisor) Stop(ctx context.Context) error    { return s.inner.Stop(ctx) }
func (s *Supervisor) Run(ctx context.Context) error     { return s.inner.Run(ctx) }
func (s *Supervisor) Status(ctx context.Context) Status { return s.inner.Status(ctx) }
func (s *Supervisor) Close() error                      { return s.inner.Close() }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// WriteDefaultConfig writes the commented starter configuration. It refuses
// to overwrite an existing file unless force is set.
func WriteDefaultConfig(path string, force bool) error { return cfg.WriteDefault(path, force) }

// GenerateReport renders the post-run HTML report from the journal.
func GenerateReport(ctx context.Context, o ReportOptions) error { return report.Generate(ctx, o) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
