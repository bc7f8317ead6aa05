package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDMeta is the second line of a supervisor-written PID file. StartUnix is
// the kernel start time of the capture process, used to detect PID reuse.
type PIDMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile writes the PID file for a running capture process. The first
// line is the plain integer PID so external tooling can keep reading it with
// head/cat; the second line carries the meta JSON.
func WritePIDFile(path string, pid int, meta PIDMeta) error {
	if path == "" || pid <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create pidfile dir: %w", err)
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(pid))
	b.WriteByte('\n')
	if meta.StartUnix > 0 {
		mb, err := json.Marshal(meta)
		if err == nil {
			b.Write(mb)
			b.WriteByte('\n')
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	return nil
}

// ReadPIDFile reads a PID file. Legacy files written by earlier payload
// revisions contain only the PID line; those return a zero PIDMeta.
func ReadPIDFile(path string) (int, PIDMeta, error) {
	var meta PIDMeta
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, meta, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	rest = strings.TrimSpace(rest)
	if rest != "" {
		// Tolerate an unparsable meta line; the PID alone is still usable.
		_ = json.Unmarshal([]byte(rest), &meta)
	}
	return pid, meta, nil
}

// RemovePIDFile removes the PID file, best-effort.
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// VerifyPIDFile reads the PID file and confirms the recorded process is
// still alive and is the same incarnation that the file was written for.
// The returned error wraps fs.ErrNotExist when the file is missing and
// syscall.ESRCH when the process is gone or its PID has been recycled.
func VerifyPIDFile(path string) (int, error) {
	pid, meta, err := ReadPIDFile(path)
	if err != nil {
		return 0, err
	}
	if meta.StartUnix > 0 {
		if cur := startTimeUnix(pid); cur > 0 && cur != meta.StartUnix {
			return pid, fmt.Errorf("pid %d from %s was recycled: %w", pid, path, syscall.ESRCH)
		}
	}
	if !processExists(pid) {
		return pid, fmt.Errorf("pid %d from %s: %w", pid, path, syscall.ESRCH)
	}
	return pid, nil
}
