package led

import (
	"log/slog"
	"sync"
)

// Config selects the status LED driver. The LED mirrors the capture process
// state so the rig shows at a glance whether recording is live.
type Config struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	Pin     int  `mapstructure:"pin" json:"pin"`
	Mock    bool `mapstructure:"mock" json:"mock"`
}

// Driver controls the status LED. Implementations must tolerate repeated
// On/Off calls in either state.
type Driver interface {
	On() error
	Off() error
	Close() error
}

// New builds a driver from cfg. A disabled config yields a no-op driver so
// callers never need to branch on whether the LED exists.
func New(cfg Config) (Driver, error) {
	if !cfg.Enabled {
		return NopDriver{}, nil
	}
	if cfg.Mock {
		slog.Debug("using mock status LED driver")
		return &MockDriver{}, nil
	}
	return newRPIODriver(cfg.Pin)
}

// NopDriver is used when no LED is configured.
type NopDriver struct{}

func (NopDriver) On() error    { return nil }
func (NopDriver) Off() error   { return nil }
func (NopDriver) Close() error { return nil }

// MockDriver records LED state in memory. Used for development off the rig
// and in tests.
type MockDriver struct {
	mu          sync.Mutex
	lit         bool
	transitions int
	closed      bool
}

func (m *MockDriver) On() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lit {
		m.transitions++
	}
	m.lit = true
	return nil
}

func (m *MockDriver) Off() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lit {
		m.transitions++
	}
	m.lit = false
	return nil
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Lit reports whether the mock LED is currently on.
func (m *MockDriver) Lit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lit
}

// Transitions reports how many state changes the mock has seen.
func (m *MockDriver) Transitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions
}

// Closed reports whether Close was called.
func (m *MockDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
