package detector

import (
	"errors"
	"os/exec"
	"strings"
)

// CommandDetector runs a probe command that exits zero while the capture
// process is healthy, e.g. "fuser -s /dev/video0" to check the camera device
// is held open.
type CommandDetector struct{ Command string }

// buildProbeCommand constructs an *exec.Cmd for a probe. A shell is used
// only when metacharacters require it.
func buildProbeCommand(cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

func (d CommandDetector) Alive() (bool, error) {
	cmd := buildProbeCommand(d.Command)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// non-zero exit means not alive
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
