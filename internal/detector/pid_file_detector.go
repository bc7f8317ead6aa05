//go:build !windows

package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// pidAlive returns true if a process with the given pid exists (or EPERM).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// PIDFileDetector detects the capture process via its PID file. The file
// carries the PID on the first line and, when written by the supervisor, a
// JSON meta line with the kernel start time of the process. When the meta
// line is present a recycled PID is reported as not alive.
type PIDFileDetector struct {
	PIDFile string
}

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

func (d PIDFileDetector) Alive() (bool, error) {
	data, err := os.ReadFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pidStr := strings.TrimSpace(lines[0])
	if pidStr == "" {
		return false, fmt.Errorf("empty pidfile: %s", d.PIDFile)
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, fmt.Errorf("invalid pid in %s: %w", d.PIDFile, err)
	}

	// Legacy files written by earlier payload revisions hold only the PID.
	var metaStart int64
	if len(lines) >= 2 {
		var m pidMeta
		if err := json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m); err == nil {
			metaStart = m.StartUnix
		}
	}
	if metaStart > 0 {
		cur := startTimeUnix(pid)
		if cur > 0 && cur != metaStart {
			return false, nil // PID reused since the file was written
		}
	}
	return pidAlive(pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a PID number. StartUnix, when non-zero, must match
// the kernel start time of the process for it to count as alive.
type PIDDetector struct {
	PID       int
	StartUnix int64
}

func (d PIDDetector) Alive() (bool, error) {
	if d.StartUnix > 0 {
		cur := startTimeUnix(d.PID)
		if cur > 0 && cur != d.StartUnix {
			return false, nil
		}
	}
	return pidAlive(d.PID), nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }
