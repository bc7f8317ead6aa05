package led

import (
	"fmt"
	"log/slog"

	"github.com/stianeikeland/go-rpio/v4"
)

// rpioDriver drives a real LED on a Raspberry Pi GPIO pin using go-rpio.
// Requires access to /dev/gpiomem or root.
type rpioDriver struct {
	pin rpio.Pin
}

func newRPIODriver(pin int) (*rpioDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	slog.Debug("status LED ready", "pin", pin)
	return &rpioDriver{pin: p}, nil
}

func (d *rpioDriver) On() error {
	d.pin.High()
	return nil
}

func (d *rpioDriver) Off() error {
	d.pin.Low()
	return nil
}

// Close releases the GPIO mapping. The pin keeps its level so the LED stays
// meaningful after a one-shot invocation exits; callers that want it dark
// call Off first.
func (d *rpioDriver) Close() error {
	return rpio.Close()
}
