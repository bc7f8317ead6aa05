package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "sebcamd.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoadMinimal(t *testing.T) {
	file := writeConfig(t, `
[capture]
command = "sleep 1"
`)
	fc, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c := fc.Capture
	if c.Name != "sebcam" {
		t.Fatalf("expected default name, got %q", c.Name)
	}
	if c.GracePeriod != 5*time.Second || c.RestartInterval != 2*time.Second || c.RetryInterval != time.Second {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestLoadFull(t *testing.T) {
	file := writeConfig(t, `
use_os_env = true
env = ["MODE=flight"]

[log]
level = "debug"
color = true

[capture]
name = "cam"
command = "/usr/bin/python3 /opt/sebcam/sebcam.py"
work_dir = "/opt/sebcam"
env = ["PYTHONUNBUFFERED=1"]
pidfile = "/tmp/cam.pid"
start_duration = "150ms"
grace_period = "3s"
auto_restart = true
restart_interval = "1s"
retry_count = 2
retry_interval = "200ms"

  [capture.log]
  dir = "/tmp/camlogs"

  [[capture.detectors]]
  type = "command"
  command = "pgrep -f sebcam.py"

  [capture.hooks]
    [[capture.hooks.pre_start]]
    name = "check-storage"
    command = "true"
    failure_mode = "fail"

    [[capture.hooks.post_stop]]
    name = "sync-card"
    command = "sync"
    run_mode = "async"

[journal]
dsn = "sqlite:///tmp/journal.db"

[metrics]
enabled = true
textfile = "/tmp/sebcamd.prom"
export_interval = "30s"
sample_interval = "2s"

[led]
enabled = true
pin = 17
mock = true
`)
	fc, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c := fc.Capture
	if c.Name != "cam" || c.WorkDir != "/opt/sebcam" || len(c.Env) != 1 || c.PIDFile != "/tmp/cam.pid" {
		t.Fatalf("unexpected base fields: %+v", c)
	}
	if c.StartDuration.String() != "150ms" || c.GracePeriod.String() != "3s" || !c.AutoRestart ||
		c.RestartInterval.String() != "1s" || c.RetryCount != 2 || c.RetryInterval.String() != "200ms" {
		t.Fatalf("unexpected control fields: %+v", c)
	}
	if c.Log.Dir != "/tmp/camlogs" {
		t.Fatalf("capture log not decoded: %+v", c.Log)
	}
	if len(c.Detectors) != 1 {
		t.Fatalf("expected 1 materialized detector, got %d", len(c.Detectors))
	}
	if len(c.Hooks.PreStart) != 1 || c.Hooks.PreStart[0].Name != "check-storage" {
		t.Fatalf("pre_start hooks not decoded: %+v", c.Hooks)
	}
	if len(c.Hooks.PostStop) != 1 || c.Hooks.PostStop[0].RunMode != "async" {
		t.Fatalf("post_stop hooks not decoded: %+v", c.Hooks)
	}

	if !fc.UseOSEnv || len(fc.Env) != 1 {
		t.Fatalf("env section not decoded: %+v", fc)
	}
	if fc.Log.Level != "debug" || !fc.Log.Color {
		t.Fatalf("log section not decoded: %+v", fc.Log)
	}
	if !fc.Journal.Enabled() || fc.Journal.DSN != "sqlite:///tmp/journal.db" {
		t.Fatalf("journal section not decoded: %+v", fc.Journal)
	}
	if !fc.Metrics.Enabled || fc.Metrics.SampleInterval != 2*time.Second {
		t.Fatalf("metrics section not decoded: %+v", fc.Metrics)
	}
	if !fc.LED.Enabled || fc.LED.Pin != 17 || !fc.LED.Mock {
		t.Fatalf("led section not decoded: %+v", fc.LED)
	}

	tf := fc.Metrics.TextfileConfig()
	if !tf.Enabled || tf.Path != "/tmp/sebcamd.prom" || tf.Interval != 30*time.Second {
		t.Fatalf("textfile mapping wrong: %+v", tf)
	}
	sc := fc.Metrics.SamplerConfig(fc.Journal.Enabled())
	if !sc.Enabled || sc.Interval != 2*time.Second {
		t.Fatalf("sampler mapping wrong: %+v", sc)
	}
}

func TestSamplerEnabledByJournalAlone(t *testing.T) {
	m := MetricsConfig{Enabled: false, SampleInterval: time.Second}
	if sc := m.SamplerConfig(true); !sc.Enabled {
		t.Fatal("sampler should run when the journal wants readings")
	}
	if sc := m.SamplerConfig(false); sc.Enabled {
		t.Fatal("sampler should stay off with metrics and journal disabled")
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		toml string
		want string
	}{
		{
			name: "missing command",
			toml: "[capture]\nname = \"x\"\n",
			want: "command is required",
		},
		{
			name: "bad log level",
			toml: "[log]\nlevel = \"loud\"\n[capture]\ncommand = \"true\"\n",
			want: "unknown log level",
		},
		{
			name: "metrics without textfile",
			toml: "[capture]\ncommand = \"true\"\n[metrics]\nenabled = true\n",
			want: "metrics.textfile is required",
		},
		{
			name: "led without pin",
			toml: "[capture]\ncommand = \"true\"\n[led]\nenabled = true\n",
			want: "led.pin is required",
		},
		{
			name: "unknown detector type",
			toml: "[capture]\ncommand = \"true\"\n[[capture.detectors]]\ntype = \"dbus\"\n",
			want: "unknown type",
		},
		{
			name: "duplicate hook name",
			toml: `[capture]
command = "true"
[capture.hooks]
[[capture.hooks.pre_start]]
name = "a"
command = "true"
[[capture.hooks.post_stop]]
name = "a"
command = "true"
`,
			want: "duplicate hook name",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			file := writeConfig(t, tc.toml)
			_, err := Load(file)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestGlobalEnvMerge(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "extra.env")
	data := "# comment\nA=from-file\nB=only-file\n\nC = spaced \n"
	if err := os.WriteFile(envFile, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	fc := &FileConfig{
		Env:      []string{"A=inline"},
		EnvFiles: []string{envFile},
	}
	pairs, err := fc.GlobalEnv()
	if err != nil {
		t.Fatalf("global env: %v", err)
	}
	got := make(map[string]string)
	for _, kv := range pairs {
		i := strings.IndexByte(kv, '=')
		got[kv[:i]] = kv[i+1:]
	}
	if got["A"] != "inline" {
		t.Fatalf("inline env must override files, got A=%q", got["A"])
	}
	if got["B"] != "only-file" || got["C"] != "spaced" {
		t.Fatalf("env file entries missing: %v", got)
	}
}

func TestGlobalEnvMissingFile(t *testing.T) {
	fc := &FileConfig{EnvFiles: []string{filepath.Join(t.TempDir(), "absent.env")}}
	if _, err := fc.GlobalEnv(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestLoadEnvFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "x.env")
	if err := os.WriteFile(file, []byte("K=V\n#skip\nBAD LINE\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pairs, err := LoadEnvFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 || pairs[0] != "K=V" {
		t.Fatalf("unexpected pairs: %v", pairs)
	}
}
