//go:build !windows

package process

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

// exitPollInterval paces the wait-for-exit loop in StopByPIDFile.
const exitPollInterval = 25 * time.Millisecond

// StopByPIDFile terminates a capture process this supervisor did not spawn,
// located via its PID file. Detached children are session leaders, so the
// group id equals the PID and SIGTERM reaches the whole group. After grace
// elapses the group gets SIGKILL. The PID file is removed once the exit is
// confirmed. Returns the signaled PID.
//
// Errors wrap fs.ErrNotExist (no PID file) and syscall.ESRCH (recorded
// process already gone), so callers can surface the exact failure mode.
func StopByPIDFile(path string, grace time.Duration) (int, error) {
	pid, err := VerifyPIDFile(path)
	if err != nil {
		return pid, err
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			// Exited between the verify and the signal.
			RemovePIDFile(path)
			return pid, nil
		}
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	if waitGone(pid, grace) {
		RemovePIDFile(path)
		return pid, nil
	}
	_ = signalGroup(pid, syscall.SIGKILL)
	if waitGone(pid, time.Second) {
		RemovePIDFile(path)
		return pid, nil
	}
	return pid, fmt.Errorf("pid %d did not exit after SIGKILL", pid)
}

// waitGone polls until the process disappears (or only a zombie remains,
// which the reparented init will reap) or the window elapses.
func waitGone(pid int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if !processExists(pid) || isZombieLinux(pid) {
			return true
		}
		time.Sleep(exitPollInterval)
	}
	return !processExists(pid) || isZombieLinux(pid)
}
