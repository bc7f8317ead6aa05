package metrics

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	captureStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sebcam",
			Subsystem: "capture",
			Name:      "starts_total",
			Help:      "Number of successful capture process starts.",
		}, []string{"name"},
	)
	captureStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sebcam",
			Subsystem: "capture",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	captureRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sebcam",
			Subsystem: "capture",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts after unexpected exits.",
		}, []string{"name"},
	)
	captureStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sebcam",
			Subsystem: "capture",
			Name:      "start_failures_total",
			Help:      "Number of start attempts that failed or died within the start window.",
		}, []string{"name"},
	)
	captureRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sebcam",
			Subsystem: "capture",
			Name:      "running",
			Help:      "Whether the capture process is currently running (1) or not (0).",
		}, []string{"name"},
	)
	captureUptime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sebcam",
			Subsystem: "capture",
			Name:      "uptime_seconds",
			Help:      "Seconds since the current capture session started.",
		}, []string{"name"},
	)
	stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sebcam",
			Subsystem: "capture",
			Name:      "stop_duration_seconds",
			Help:      "Time from stop request until the process was reaped.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		captureStarts, captureStops, captureRestarts, captureStartFailures,
		captureRunning, captureUptime, stopDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		captureStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		captureStops.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		captureRestarts.WithLabelValues(name).Inc()
	}
}

func IncStartFailure(name string) {
	if regOK.Load() {
		captureStartFailures.WithLabelValues(name).Inc()
	}
}

func SetRunning(name string, up bool) {
	if regOK.Load() {
		var v float64
		if up {
			v = 1
		}
		captureRunning.WithLabelValues(name).Set(v)
	}
}

func SetUptime(name string, seconds float64) {
	if regOK.Load() {
		captureUptime.WithLabelValues(name).Set(seconds)
	}
}

func ObserveStopDuration(name string, seconds float64) {
	if regOK.Load() {
		stopDuration.WithLabelValues(name).Observe(seconds)
	}
}
