package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/sebcam/sebcamd/internal/config"
	"github.com/sebcam/sebcamd/internal/env"
	"github.com/sebcam/sebcamd/internal/journal"
	"github.com/sebcam/sebcamd/internal/led"
	"github.com/sebcam/sebcamd/internal/metrics"
	"github.com/sebcam/sebcamd/internal/process"
)

// Sentinel errors surfaced to the CLI. ErrAlreadyRunning is a notice, not a
// failure; everything else keeps its wrapped cause (fs.ErrNotExist for a
// missing PID file, syscall.ESRCH for a dead or recycled PID).
var (
	ErrAlreadyRunning = errors.New("capture process is already running")
	ErrNotRunning     = errors.New("capture process is not running")
)

// Status is the CLI-facing view of the capture process, optionally enriched
// with a resource snapshot when the process is alive.
type Status struct {
	process.Status
	Session   string            `json:"session,omitempty"`
	Resources *metrics.Snapshot `json:"resources,omitempty"`
}

// Supervisor owns the capture process lifecycle. All state transitions go
// through mu, so a start cannot race another start and stop cannot race a
// restart. The supervisor holds the process handle directly; PID files exist
// for one-shot invocations and external tooling, not as the source of truth.
type Supervisor struct {
	cfg *config.FileConfig
	log *slog.Logger
	env *env.Env

	mu   sync.Mutex
	proc *process.Process

	journal *journal.Journal
	led     led.Driver

	// waiters tracks monitor goroutines reaping child exits in run mode.
	waiters sync.WaitGroup
}

// New wires a supervisor from config. Journal and LED failures degrade to
// warnings; a broken telemetry path must not ground the camera.
func New(cfg *config.FileConfig, log *slog.Logger) (*Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		cfg:  cfg,
		log:  log,
		env:  env.New(cfg.UseOSEnv),
		proc: process.New(cfg.Capture),
	}

	pairs, err := cfg.GlobalEnv()
	if err != nil {
		return nil, err
	}
	for _, kv := range pairs {
		if k, v, ok := cutKV(kv); ok {
			s.env.Set(k, v)
		}
	}

	if cfg.Journal.Enabled() {
		sink, err := journal.NewSinkFromDSN(cfg.Journal.DSN)
		if err != nil {
			log.Warn("journal disabled: sink unavailable", "dsn", cfg.Journal.DSN, "err", err)
		} else {
			s.journal = journal.New(log, sink)
		}
	}

	drv, err := led.New(cfg.LED)
	if err != nil {
		log.Warn("status LED disabled", "err", err)
		drv = led.NopDriver{}
	}
	s.led = drv
	return s, nil
}

// Close releases the journal and the LED driver. The LED keeps its level.
func (s *Supervisor) Close() error {
	var first error
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			first = err
		}
	}
	if err := s.led.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Start launches the capture process detached from this supervisor, for the
// one-shot CLI path. The child gets its own session so it survives our exit;
// the PID file hands it over to later invocations.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.startLocked(ctx, true); err != nil {
		return err
	}
	st := s.proc.Snapshot()
	spec := s.proc.Spec()
	metrics.IncStart(spec.Name)
	s.journalEvent(journal.EventStart, st, "")
	if err := s.led.On(); err != nil {
		s.log.Warn("status LED on failed", "err", err)
	}
	s.log.Info("capture process started", "name", spec.Name, "pid", st.PID)
	return nil
}

// startLocked performs the shared start sequence. Callers hold mu, which
// also orders this against Stop: once a canceled context reaches Stop, no
// later startLocked can spawn an orphan.
func (s *Supervisor) startLocked(ctx context.Context, detached bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if alive, by := s.proc.DetectAlive(); alive {
		if by != "" {
			return fmt.Errorf("%w (detected by %s)", ErrAlreadyRunning, by)
		}
		return ErrAlreadyRunning
	}

	spec := s.proc.Spec()
	baseEnv := s.env.Compose(spec.Env)

	if err := process.RunHooks(ctx, s.log, spec.Hooks.PreStart, baseEnv); err != nil {
		return fmt.Errorf("pre_start: %w", err)
	}

	cmd := s.proc.ConfigureCmd(baseEnv, detached)
	if err := s.proc.TryStart(cmd); err != nil {
		if s.proc.Snapshot().Running {
			// The child is up but the PID file write failed; do not leave it
			// running unlocatable.
			_ = s.proc.Kill()
			s.proc.RemovePIDFile()
		}
		s.recordStartFailure(err)
		return fmt.Errorf("start capture process: %w", err)
	}

	if err := s.proc.EnforceStartDuration(spec.StartDuration); err != nil {
		s.proc.RemovePIDFile()
		s.proc.MarkExited(err)
		s.recordStartFailure(err)
		return err
	}

	if perr := process.RunHooks(ctx, s.log, spec.Hooks.PostStart, baseEnv); perr != nil {
		// The process is already up; a failing post_start hook is reported
		// but does not undo the start.
		s.log.Warn("post_start hook failed", "err", perr)
	}
	return nil
}

func (s *Supervisor) recordStartFailure(cause error) {
	spec := s.proc.Spec()
	metrics.IncStartFailure(spec.Name)
	st := s.proc.Snapshot()
	st.Name = spec.Name
	s.journalEvent(journal.EventStartFailed, st, cause.Error())
}

// Stop terminates the capture process. With a live handle (run mode) the
// handle is stopped directly; otherwise the PID file locates the process.
// The error wraps fs.ErrNotExist when there is nothing to hand over and
// syscall.ESRCH when the recorded process is gone, so the CLI exits non-zero
// with the precise cause.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec := s.proc.Spec()
	baseEnv := s.env.Compose(spec.Env)

	if err := process.RunHooks(ctx, s.log, spec.Hooks.PreStop, baseEnv); err != nil {
		return fmt.Errorf("pre_stop: %w", err)
	}

	began := time.Now()
	st := s.proc.Snapshot()
	ownHandle := st.Running && s.proc.CopyCmd() != nil

	var pid int
	if ownHandle {
		pid = st.PID
		// Stop reports the child's exit error; death by our own SIGTERM or
		// SIGKILL is the outcome we asked for, not a failure.
		if err := s.proc.Stop(spec.GracePeriod); err != nil && !isExpectedExit(err) {
			return fmt.Errorf("stop capture process: %w", err)
		}
		s.proc.RemovePIDFile()
	} else {
		var err error
		pid, err = process.StopByPIDFile(spec.PIDFile, spec.GracePeriod)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH) {
				err = fmt.Errorf("%w: %w", ErrNotRunning, err)
			}
			return err
		}
	}

	metrics.IncStop(spec.Name)
	metrics.ObserveStopDuration(spec.Name, time.Since(began).Seconds())
	stopSt := s.proc.Snapshot()
	stopSt.Name = spec.Name
	if stopSt.PID == 0 {
		stopSt.PID = pid
	}
	s.journalEvent(journal.EventStop, stopSt, "requested")
	if lerr := s.led.Off(); lerr != nil {
		s.log.Warn("status LED off failed", "err", lerr)
	}

	if perr := process.RunHooks(ctx, s.log, spec.Hooks.PostStop, baseEnv); perr != nil {
		s.log.Warn("post_stop hook failed", "err", perr)
	}
	s.log.Info("capture process stopped", "name", spec.Name, "pid", pid)
	return nil
}

// Status reports the current capture state. When the handle is cold (one-shot
// invocation) the PID file fills in identity, and a live process gets a
// resource snapshot attached.
func (s *Supervisor) Status(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec := s.proc.Spec()
	st := s.proc.Snapshot()
	alive, by := s.proc.DetectAlive()
	st.Name = spec.Name
	st.Running = alive
	st.DetectedBy = by

	if alive && st.PID == 0 && spec.PIDFile != "" {
		if pid, meta, err := process.ReadPIDFile(spec.PIDFile); err == nil {
			st.PID = pid
			if meta.StartUnix > 0 && st.StartedAt.IsZero() {
				st.StartedAt = time.Unix(meta.StartUnix, 0)
			}
		}
	}

	out := Status{Status: st, Session: st.SessionID()}
	if alive && st.PID > 0 {
		if snap, err := metrics.Probe(st.PID); err == nil {
			out.Resources = &snap
		}
	}
	return out
}

// journalEvent records a lifecycle transition. The journal bounds the write
// with its own timeout, so callers do not pass a context.
func (s *Supervisor) journalEvent(typ journal.EventType, st process.Status, detail string) {
	if s.journal == nil || !s.journal.Enabled() {
		return
	}
	s.journal.Event(journal.Event{
		Type:      typ,
		Name:      st.Name,
		PID:       st.PID,
		SessionID: st.SessionID(),
		Detail:    detail,
	})
}

// isExpectedExit filters the exit statuses a SIGTERM/SIGKILL stop produces.
func isExpectedExit(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return msg == "signal: terminated" ||
		msg == "signal: killed" ||
		msg == "signal: interrupt" ||
		msg == "exit status 143" ||
		msg == "exit status 130"
}

func cutKV(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
