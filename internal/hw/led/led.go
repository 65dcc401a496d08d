package led

import (
	"sync"

	"github.com/cjeanneret/picast/internal/debug"
	"github.com/cjeanneret/picast/internal/hw/gpio"
)

// Config holds the hardware configuration for an indicator LED.
type Config struct {
	Pin       int  // BCM pin (rpio) or line offset (cdev)
	ActiveLow bool // LED wired between 3V3 and the pin
}

// LED is a single on/off indicator, lit while the camera is capturing.
type LED struct {
	gpio gpio.Driver
	cfg  Config

	mu sync.Mutex
	on bool
}

// New configures the pin as an output and leaves the LED off.
func New(g gpio.Driver, cfg Config) (*LED, error) {
	l := &LED{gpio: g, cfg: cfg}
	if err := g.SetupPin(cfg.Pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(cfg.Pin, l.level(false)); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *LED) level(on bool) gpio.Level {
	if l.cfg.ActiveLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

func (l *LED) set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.on == on {
		return nil
	}
	debug.Verbose("LED: pin %d -> on=%v", l.cfg.Pin, on)
	if err := l.gpio.WritePin(l.cfg.Pin, l.level(on)); err != nil {
		return err
	}
	l.on = on
	return nil
}

// On lights the LED.
func (l *LED) On() error { return l.set(true) }

// Off turns the LED off.
func (l *LED) Off() error { return l.set(false) }

// IsOn reports the last state written.
func (l *LED) IsOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}
