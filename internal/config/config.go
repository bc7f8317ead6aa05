package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sebcam/sebcamd/internal/led"
	"github.com/sebcam/sebcamd/internal/logger"
	"github.com/sebcam/sebcamd/internal/metrics"
	"github.com/sebcam/sebcamd/internal/process"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string       `toml:"env" mapstructure:"env"`
	EnvFiles []string       `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool           `toml:"use_os_env" mapstructure:"use_os_env"`
	Log      logger.Options `toml:"log" mapstructure:"log"`
	Capture  process.Spec   `toml:"capture" mapstructure:"capture"`
	Journal  JournalConfig  `toml:"journal" mapstructure:"journal"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	LED      led.Config     `toml:"led" mapstructure:"led"`
}

// JournalConfig selects where capture events and resource samples are
// persisted. An empty DSN disables the journal.
type JournalConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// Enabled reports whether a journal sink is configured.
func (j JournalConfig) Enabled() bool { return strings.TrimSpace(j.DSN) != "" }

// MetricsConfig configures Prometheus collection and the textfile export.
type MetricsConfig struct {
	Enabled        bool          `toml:"enabled" mapstructure:"enabled"`
	Textfile       string        `toml:"textfile" mapstructure:"textfile"`
	ExportInterval time.Duration `toml:"export_interval" mapstructure:"export_interval"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

// TextfileConfig maps the section to the exporter's own config type.
func (m MetricsConfig) TextfileConfig() metrics.TextfileConfig {
	return metrics.TextfileConfig{
		Enabled:  m.Enabled && m.Textfile != "",
		Path:     m.Textfile,
		Interval: m.ExportInterval,
	}
}

// SamplerConfig maps the section to the sampler's config. Sampling also runs
// when only the journal wants readings.
func (m MetricsConfig) SamplerConfig(journalEnabled bool) metrics.SamplerConfig {
	return metrics.SamplerConfig{
		Enabled:  m.Enabled || journalEnabled,
		Interval: m.SampleInterval,
	}
}

// Load reads and validates the TOML config at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	fc.Capture.Normalize()
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	if err := fc.Capture.MaterializeDetectors(); err != nil {
		return nil, fmt.Errorf("capture %q: %w", fc.Capture.Name, err)
	}
	return &fc, nil
}

// Validate checks cross-section constraints.
func (c *FileConfig) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Textfile) == "" {
		return fmt.Errorf("metrics.textfile is required when metrics are enabled")
	}
	if c.LED.Enabled && !c.LED.Mock && c.LED.Pin <= 0 {
		return fmt.Errorf("led.pin is required when the LED is enabled")
	}
	return nil
}

// GlobalEnv merges supervisor-level environment sources: env_files contents
// in order, then the inline env list overriding last. The OS environment is
// not included here; the env package layers it according to UseOSEnv.
func (c *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
