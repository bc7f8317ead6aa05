//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// signalGroup signals the whole process group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// processExists reports whether a process with pid exists (EPERM counts).
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
