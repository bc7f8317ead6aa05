package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigTOML is the starter configuration written by "config init".
// Paths assume the usual Raspberry Pi rig layout; adjust per installation.
const DefaultConfigTOML = `# sebcamd configuration

# Supervisor-level environment for the capture process and hooks.
use_os_env = true
env = []
# env_files = ["/etc/sebcamd/capture.env"]

[log]
# Supervisor's own log. Leave file empty to log to stderr.
level = "info"
file = "/var/log/sebcamd/sebcamd.log"
max_size_mb = 10
max_backups = 3
max_age_days = 7
compress = false
color = false

[capture]
name = "sebcam"
command = "/usr/bin/python3 /opt/sebcam/sebcam.py"
work_dir = "/opt/sebcam"
pidfile = "/run/sebcam.pid"
env = ["PYTHONUNBUFFERED=1"]
# Minimum uptime before a start counts as successful.
start_duration = "2s"
# SIGTERM-to-SIGKILL window on stop.
grace_period = "5s"
auto_restart = true
restart_interval = "2s"
retry_count = 3
retry_interval = "1s"

  [capture.log]
  # Rotating stdout/stderr capture for the camera process.
  dir = "/var/log/sebcamd"

  # [[capture.detectors]]
  # type = "command"
  # command = "pgrep -f sebcam.py"

  # [capture.hooks]
  #   [[capture.hooks.pre_start]]
  #   name = "check-storage"
  #   command = "/usr/local/bin/check-sdcard.sh"
  #   failure_mode = "fail"

[journal]
# Where capture events and resource samples are persisted.
# sqlite path, postgres://..., or clickhouse://... Empty disables the journal.
dsn = "sqlite:///var/lib/sebcamd/journal.db"

[metrics]
enabled = false
# Published for a node_exporter textfile collector.
textfile = "/var/lib/node_exporter/sebcamd.prom"
export_interval = "15s"
sample_interval = "5s"

[led]
# Status LED mirroring the capture state.
enabled = false
pin = 17
mock = false
`

// WriteDefault writes DefaultConfigTOML to path. It refuses to overwrite an
// existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(DefaultConfigTOML), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
