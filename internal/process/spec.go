package process

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sebcam/sebcamd/internal/detector"
	"github.com/sebcam/sebcamd/internal/logger"
)

// DefaultName is used when the capture table omits a name.
const DefaultName = "sebcam"

// Defaults applied by Normalize.
const (
	DefaultGracePeriod     = 5 * time.Second
	DefaultRestartInterval = 2 * time.Second
	DefaultRetryInterval   = time.Second
)

// DetectorConfig is the config-file form of a liveness detector.
type DetectorConfig struct {
	Type    string `json:"type" mapstructure:"type"`
	Path    string `json:"path" mapstructure:"path"`
	Command string `json:"command" mapstructure:"command"`
}

// Spec describes the capture process under supervision.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"`
	PIDFile string   `json:"pidfile" mapstructure:"pidfile"`

	// GracePeriod bounds the SIGTERM-to-SIGKILL escalation on stop.
	GracePeriod time.Duration `json:"grace_period" mapstructure:"grace_period"`
	// StartDuration is the minimum uptime before a start counts as successful.
	StartDuration time.Duration `json:"start_duration" mapstructure:"start_duration"`

	AutoRestart     bool          `json:"auto_restart" mapstructure:"auto_restart"`
	RestartInterval time.Duration `json:"restart_interval" mapstructure:"restart_interval"`
	RetryCount      int           `json:"retry_count" mapstructure:"retry_count"`
	RetryInterval   time.Duration `json:"retry_interval" mapstructure:"retry_interval"`

	Detectors       []detector.Detector `json:"-" mapstructure:"-"`
	DetectorConfigs []DetectorConfig    `json:"detectors" mapstructure:"detectors"`

	Hooks Hooks         `json:"hooks" mapstructure:"hooks"`
	Log   logger.Config `json:"log" mapstructure:"log"`
}

// Normalize fills in defaults. Call before Validate.
func (s *Spec) Normalize() {
	if strings.TrimSpace(s.Name) == "" {
		s.Name = DefaultName
	}
	if s.GracePeriod <= 0 {
		s.GracePeriod = DefaultGracePeriod
	}
	if s.RestartInterval <= 0 {
		s.RestartInterval = DefaultRestartInterval
	}
	if s.RetryInterval <= 0 {
		s.RetryInterval = DefaultRetryInterval
	}
}

// Validate reports config errors. Call after Normalize.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("capture %q: command is required", s.Name)
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("capture %q: retry_count must be >= 0", s.Name)
	}
	for i, dc := range s.DetectorConfigs {
		switch dc.Type {
		case "pidfile":
			if dc.Path == "" && s.PIDFile == "" {
				return fmt.Errorf("capture %q: detector %d: pidfile detector needs a path", s.Name, i)
			}
		case "command":
			if strings.TrimSpace(dc.Command) == "" {
				return fmt.Errorf("capture %q: detector %d: command detector needs a command", s.Name, i)
			}
		default:
			return fmt.Errorf("capture %q: detector %d: unknown type %q", s.Name, i, dc.Type)
		}
	}
	return s.Hooks.Validate()
}

// MaterializeDetectors converts DetectorConfigs into live Detectors and
// appends them to Detectors. The implicit PID file detector is added by the
// process itself and is not duplicated here.
func (s *Spec) MaterializeDetectors() error {
	for i, dc := range s.DetectorConfigs {
		switch dc.Type {
		case "pidfile":
			path := dc.Path
			if path == "" {
				path = s.PIDFile
			}
			if path == "" {
				return fmt.Errorf("detector %d: pidfile detector needs a path", i)
			}
			s.Detectors = append(s.Detectors, detector.PIDFileDetector{PIDFile: path})
		case "command":
			s.Detectors = append(s.Detectors, detector.CommandDetector{Command: dc.Command})
		default:
			return fmt.Errorf("detector %d: unknown type %q", i, dc.Type)
		}
	}
	return nil
}

// BuildCommand constructs the *exec.Cmd for the capture command.
func (s *Spec) BuildCommand() *exec.Cmd {
	return BuildShellCommand(s.Command)
}

// BuildShellCommand constructs an *exec.Cmd for a command string. It avoids
// invoking a shell when not necessary, and it respects an explicit shell
// invocation already present in the string (e.g. "sh -c 'echo hi'") without
// wrapping it in another shell.
func BuildShellCommand(cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// Absolute shell path so an overridden Env without PATH still works.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// argument after -c with one layer of surrounding quotes stripped, so the
// script inside keeps its redirections and quoting.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
