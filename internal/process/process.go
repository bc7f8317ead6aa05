package process

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sebcam/sebcamd/internal/detector"
)

// finalReapWait bounds the post-SIGKILL reap attempt.
const finalReapWait = 200 * time.Millisecond

// Process is the in-memory handle for the capture process. The supervising
// component holds it for the lifetime of the run; the PID file exists only
// so one-shot CLI invocations and external tooling can find the process.
type Process struct {
	spec       Spec
	cmd        *exec.Cmd
	status     Status
	mu         sync.Mutex
	stopping   bool  // Stop requested; suppresses autorestart
	restarts   int
	startUnix  int64 // kernel start time of the current incarnation
	outCloser  io.WriteCloser
	errCloser  io.WriteCloser
	waitDone   chan struct{} // closed by the waiter when cmd.Wait returns
	monitoring bool          // a goroutine owns cmd.Wait
}

func New(spec Spec) *Process { return &Process{spec: spec} }

// Spec returns a copy of the process spec.
func (r *Process) Spec() Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// ConfigureCmd builds the *exec.Cmd for this process using mergedEnv.
// Detached processes get their own session so they survive supervisor exit;
// otherwise the child leads a new process group for group signaling.
func (r *Process) ConfigureCmd(mergedEnv []string, detached bool) *exec.Cmd {
	r.mu.Lock()
	spec := r.spec
	r.mu.Unlock()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd, detached)
	if spec.Log.Dir != "" || spec.Log.StdoutPath != "" || spec.Log.StderrPath != "" {
		outW, errW, _ := spec.Log.Writers(spec.Name)
		r.EnsureLogClosers(outW, errW)
		ow, ew := r.OutErrClosers()
		if ow != nil {
			cmd.Stdout = ow
		} else {
			cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
		if ew != nil {
			cmd.Stderr = ew
		} else {
			cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}
	return cmd
}

// TryStart starts the command, records the handle state, and writes the PID
// file. A PID file write failure is returned to the caller, which must not
// leave the child running unsupervised.
func (r *Process) TryStart(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	r.setStarted(cmd)
	r.mu.Lock()
	path, pid, meta := r.spec.PIDFile, r.status.PID, PIDMeta{StartUnix: r.startUnix}
	r.mu.Unlock()
	if err := WritePIDFile(path, pid, meta); err != nil {
		return err
	}
	return nil
}

func (r *Process) setStarted(cmd *exec.Cmd) {
	startUnix := startTimeUnix(cmd.Process.Pid)
	r.mu.Lock()
	r.cmd = cmd
	r.waitDone = make(chan struct{})
	r.startUnix = startUnix
	r.status.Name = r.spec.Name
	r.status.Running = true
	r.status.PID = cmd.Process.Pid
	r.status.StartedAt = time.Now()
	r.status.StoppedAt = time.Time{}
	r.status.ExitErr = nil
	r.status.Restarts = r.restarts
	r.stopping = false
	r.mu.Unlock()
}

func (r *Process) CopyCmd() *exec.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd
}

// StartUnix returns the kernel start time recorded at spawn, 0 when unknown.
func (r *Process) StartUnix() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startUnix
}

func (r *Process) CloseWaitDone() {
	r.mu.Lock()
	if r.waitDone != nil {
		close(r.waitDone)
		r.waitDone = nil
	}
	r.mu.Unlock()
}

func (r *Process) WaitDoneChan() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitDone
}

func (r *Process) MarkExited(err error) {
	r.mu.Lock()
	r.status.Running = false
	r.status.StoppedAt = time.Now()
	r.status.ExitErr = err
	r.mu.Unlock()
}

func (r *Process) SetStopRequested(v bool) {
	r.mu.Lock()
	r.stopping = v
	r.mu.Unlock()
}

func (r *Process) StopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

func (r *Process) IncRestarts() int {
	r.mu.Lock()
	r.restarts++
	v := r.restarts
	r.mu.Unlock()
	return v
}

// ResetRestarts clears the restart counter after a stable run.
func (r *Process) ResetRestarts() {
	r.mu.Lock()
	r.restarts = 0
	r.mu.Unlock()
}

// MonitoringStartIfNeeded claims ownership of cmd.Wait. Exactly one waiter
// may reap the child; everyone else waits on waitDone.
func (r *Process) MonitoringStartIfNeeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.monitoring {
		return false
	}
	r.monitoring = true
	return true
}

func (r *Process) MonitoringStop() {
	r.mu.Lock()
	r.monitoring = false
	r.mu.Unlock()
}

func (r *Process) IsMonitoring() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitoring
}

func (r *Process) OutErrClosers() (io.WriteCloser, io.WriteCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outCloser, r.errCloser
}

func (r *Process) EnsureLogClosers(stdout, stderr io.WriteCloser) {
	r.mu.Lock()
	if r.outCloser == nil && stdout != nil {
		r.outCloser = stdout
	}
	if r.errCloser == nil && stderr != nil {
		r.errCloser = stderr
	}
	r.mu.Unlock()
}

func (r *Process) CloseWriters() {
	r.mu.Lock()
	if r.outCloser != nil {
		_ = r.outCloser.Close()
		r.outCloser = nil
	}
	if r.errCloser != nil {
		_ = r.errCloser.Close()
		r.errCloser = nil
	}
	r.mu.Unlock()
}

// RemovePIDFile removes this process's PID file, best-effort.
func (r *Process) RemovePIDFile() {
	r.mu.Lock()
	path := r.spec.PIDFile
	r.mu.Unlock()
	RemovePIDFile(path)
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// DetectAlive probes liveness without racing os/exec internals. The handle
// PID is checked first; configured detectors cover processes this handle
// did not spawn (e.g. started by a previous supervisor invocation).
func (r *Process) DetectAlive() (bool, string) {
	r.mu.Lock()
	cmd := r.cmd
	startUnix := r.startUnix
	r.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		if runtime.GOOS == "linux" {
			// A quickly-exiting child lingers as a zombie until reaped.
			if isZombieLinux(pid) {
				return false, ""
			}
			if ok, _ := (detector.PIDDetector{PID: pid, StartUnix: startUnix}).Alive(); ok {
				return true, "exec:pid"
			}
		} else {
			if syscall.Kill(-pid, 0) == nil {
				return true, "exec:pid"
			}
		}
	}
	for _, d := range r.detectors() {
		if ok, _ := d.Alive(); ok {
			return true, d.Describe()
		}
	}
	return false, ""
}

func (r *Process) detectors() []detector.Detector {
	r.mu.Lock()
	defer r.mu.Unlock()
	dets := make([]detector.Detector, 0, len(r.spec.Detectors)+1)
	if r.spec.PIDFile != "" {
		dets = append(dets, detector.PIDFileDetector{PIDFile: r.spec.PIDFile})
	}
	dets = append(dets, r.spec.Detectors...)
	return dets
}

// isZombieLinux reports whether /proc/<pid>/status shows state Z.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// EnforceStartDuration waits for d ensuring the process stays up; it returns
// an error when the process exits before the window elapses.
func (r *Process) EnforceStartDuration(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errExitedEarly(d)
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if alive, _ := r.DetectAlive(); !alive {
			return errExitedEarly(d)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func errExitedEarly(d time.Duration) error {
	return fmt.Errorf("capture process exited before start duration %s", d)
}

// Stop terminates the child: SIGTERM to the process group, wait up to the
// given duration for the reaper, then SIGKILL. Safe to call whether or not
// a monitor goroutine owns cmd.Wait.
func (r *Process) Stop(wait time.Duration) error {
	alive, _ := r.DetectAlive()
	if !alive {
		return nil
	}
	r.SetStopRequested(true)
	cmd := r.CopyCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	_ = signalGroup(pid, syscall.SIGTERM)

	if !r.IsMonitoring() && r.MonitoringStartIfNeeded() {
		// No monitor present; this call owns the wait and the state change.
		ch := make(chan error, 1)
		go func() {
			err := cmd.Wait()
			r.MarkExited(err)
			r.CloseWaitDone()
			ch <- err
		}()
		select {
		case <-ch:
		case <-time.After(wait):
			_ = signalGroup(pid, syscall.SIGKILL)
			select {
			case <-ch:
			case <-time.After(finalReapWait):
			}
		}
		r.CloseWriters()
		r.MonitoringStop()
	} else {
		// A monitor goroutine reaps and finalizes; wait on waitDone.
		r.awaitDone(pid, wait)
	}
	return r.Snapshot().ExitErr
}

// awaitDone waits for the monitor to reap the child, escalating to SIGKILL
// once wait elapses.
func (r *Process) awaitDone(pid int, wait time.Duration) {
	wd := r.WaitDoneChan()
	if wd == nil {
		time.Sleep(wait)
		return
	}
	select {
	case <-wd:
	case <-time.After(wait):
		_ = signalGroup(pid, syscall.SIGKILL)
		select {
		case <-wd:
		case <-time.After(finalReapWait):
		}
	}
}

// Kill sends SIGKILL to the process group and reaps promptly.
func (r *Process) Kill() error {
	cmd := r.CopyCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	r.SetStopRequested(true)
	_ = signalGroup(pid, syscall.SIGKILL)
	if !r.IsMonitoring() && r.MonitoringStartIfNeeded() {
		ch := make(chan error, 1)
		go func() {
			err := cmd.Wait()
			r.MarkExited(err)
			r.CloseWaitDone()
			ch <- err
		}()
		select {
		case <-ch:
		case <-time.After(finalReapWait):
		}
		r.CloseWriters()
		r.MonitoringStop()
	} else {
		if wd := r.WaitDoneChan(); wd != nil {
			select {
			case <-wd:
			case <-time.After(finalReapWait):
			}
		} else {
			time.Sleep(finalReapWait)
		}
	}
	return r.Snapshot().ExitErr
}
