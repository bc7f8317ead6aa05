package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sebcam/sebcamd/internal/journal"
	"github.com/sebcam/sebcamd/internal/metrics"
)

// gaugeInterval paces the running/uptime gauge refresh in run mode.
const gaugeInterval = time.Second

// Run supervises the capture process in the foreground until ctx is done.
// Unlike Start, the child stays attached (a process group led by the child)
// so exits are reaped immediately and autorestart can react. Sampling,
// textfile export, and the status LED run for the duration.
func (s *Supervisor) Run(ctx context.Context) error {
	spec := s.proc.Spec()

	if s.cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return err
		}
	}
	sampler := metrics.NewSampler(s.cfg.Metrics.SamplerConfig(s.cfg.Journal.Enabled()), spec.Name)
	if err := sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	exporter := metrics.NewTextfileExporter(s.cfg.Metrics.TextfileConfig(), nil)

	s.mu.Lock()
	err := s.startLocked(ctx, false)
	if err == nil {
		s.proc.ResetRestarts()
		metrics.IncStart(spec.Name)
		s.observeRun(ctx, journal.EventStart, "")
	}
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return fmt.Errorf("%w; stop it before running the supervisor", err)
		}
		return err
	}

	sampler.Start(ctx, s.samplePID, s.observeSample)
	defer sampler.Stop()
	exporter.Start(ctx)
	defer exporter.Stop()

	s.log.Info("supervising capture process", "name", spec.Name, "pid", s.proc.Snapshot().PID)

	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("shutdown requested")
			// The run context is canceled; stop hooks still need to be able
			// to run to completion.
			if err := s.Stop(context.Background()); err != nil && !errors.Is(err, ErrNotRunning) {
				s.log.Warn("stop during shutdown failed", "err", err)
			}
			s.waiters.Wait()
			metrics.SetRunning(spec.Name, false)
			metrics.SetUptime(spec.Name, 0)
			return nil
		case <-ticker.C:
			s.updateGauges()
		}
	}
}

// observeRun journals the new run, attaches the exit monitor, and lights the
// LED after a successful start in run mode. Callers hold mu so a concurrent
// Stop cannot interleave between the start and its bookkeeping.
func (s *Supervisor) observeRun(ctx context.Context, typ journal.EventType, detail string) {
	st := s.proc.Snapshot()
	s.journalEvent(typ, st, detail)
	if s.proc.MonitoringStartIfNeeded() {
		s.waiters.Add(1)
		go s.waitAndHandleExit(ctx)
	}
	if err := s.led.On(); err != nil {
		s.log.Warn("status LED on failed", "err", err)
	}
}

// waitAndHandleExit reaps the child and reacts to the exit. Expected stops
// leave the bookkeeping to Stop; unexpected exits are journaled and feed the
// autorestart policy.
func (s *Supervisor) waitAndHandleExit(ctx context.Context) {
	defer s.waiters.Done()

	cmd := s.proc.CopyCmd()
	var err error
	if cmd != nil {
		err = cmd.Wait()
	}
	// Final state lands before waitDone closes so waiters read it settled.
	s.proc.MarkExited(err)
	s.proc.CloseWaitDone()
	s.proc.CloseWriters()
	s.proc.MonitoringStop()
	if lerr := s.led.Off(); lerr != nil {
		s.log.Warn("status LED off failed", "err", lerr)
	}

	if s.proc.StopRequested() || ctx.Err() != nil {
		return
	}

	st := s.proc.Snapshot()
	detail := "exited"
	if err != nil {
		detail = err.Error()
	}
	s.log.Warn("capture process exited unexpectedly", "name", st.Name, "pid", st.PID, "err", err)
	s.journalEvent(journal.EventExit, st, detail)
	metrics.SetRunning(st.Name, false)
	s.proc.RemovePIDFile()

	s.tryAutoStart(ctx)
}

// tryAutoStart restarts the capture process after an unexpected exit,
// honoring the restart interval and the bounded retry policy.
func (s *Supervisor) tryAutoStart(ctx context.Context) {
	spec := s.proc.Spec()
	if !spec.AutoRestart || s.proc.StopRequested() {
		return
	}

	restInt := spec.RestartInterval
	if restInt <= 0 {
		restInt = 50 * time.Millisecond
	}
	t := time.NewTimer(restInt)
	select {
	case <-t.C:
	case <-ctx.Done():
		if !t.Stop() {
			<-t.C
		}
		return
	}

	attempts := spec.RetryCount
	if attempts < 0 {
		attempts = 0
	}
	interval := spec.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	n := s.proc.IncRestarts()
	for i := 0; i <= attempts; i++ {
		if s.proc.StopRequested() || ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		err := s.startLocked(ctx, false)
		if err == nil {
			metrics.IncStart(spec.Name)
			metrics.IncRestart(spec.Name)
			s.observeRun(ctx, journal.EventRestart, fmt.Sprintf("restart #%d", n))
		}
		s.mu.Unlock()
		if err == nil {
			s.log.Info("capture process restarted", "name", spec.Name, "pid", s.proc.Snapshot().PID, "restarts", n)
			return
		}
		if errors.Is(err, ErrAlreadyRunning) || errors.Is(err, context.Canceled) {
			return
		}
		s.log.Warn("restart attempt failed", "attempt", i+1, "err", err)
		if i < attempts {
			time.Sleep(interval)
		}
	}
	s.log.Error("giving up on restarting capture process", "name", spec.Name, "attempts", attempts+1)
}

func (s *Supervisor) updateGauges() {
	spec := s.proc.Spec()
	st := s.proc.Snapshot()
	alive, _ := s.proc.DetectAlive()
	metrics.SetRunning(spec.Name, alive)
	if alive && !st.StartedAt.IsZero() {
		metrics.SetUptime(spec.Name, time.Since(st.StartedAt).Seconds())
	} else {
		metrics.SetUptime(spec.Name, 0)
	}
}

// samplePID tells the sampler which PID to read, if any.
func (s *Supervisor) samplePID() (int, bool) {
	if alive, _ := s.proc.DetectAlive(); !alive {
		return 0, false
	}
	st := s.proc.Snapshot()
	if st.PID <= 0 {
		return 0, false
	}
	return st.PID, true
}

// observeSample forwards a sampler reading into the journal.
func (s *Supervisor) observeSample(snap metrics.Snapshot) {
	if s.journal == nil || !s.journal.Enabled() {
		return
	}
	st := s.proc.Snapshot()
	name := st.Name
	if name == "" {
		name = s.proc.Spec().Name
	}
	s.journal.Sample(journal.Sample{
		At:         snap.At,
		Name:       name,
		PID:        snap.PID,
		SessionID:  st.SessionID(),
		CPUPercent: snap.CPUPercent,
		RSSBytes:   snap.RSSBytes,
		VMSBytes:   snap.VMSBytes,
		NumThreads: int32(snap.NumThreads),
		NumFDs:     int32(snap.NumFDs),
	})
}
