package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteDefaultAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "sebcamd", "sebcamd.toml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("write default: %v", err)
	}

	// The generated file must load and validate as-is.
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("reload default config: %v", err)
	}
	if fc.Capture.Name != "sebcam" {
		t.Fatalf("unexpected capture name %q", fc.Capture.Name)
	}
	if !strings.Contains(fc.Capture.Command, "sebcam.py") {
		t.Fatalf("unexpected capture command %q", fc.Capture.Command)
	}
	if !fc.Journal.Enabled() {
		t.Fatal("default config should journal to sqlite")
	}
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sebcamd.toml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Fatal("expected overwrite refusal")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Fatalf("force overwrite: %v", err)
	}
}
