package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/picast/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPIODriver drives Raspberry Pi GPIOs through go-rpio (memory mapped).
// Requires /dev/gpiomem access or root.
type RPIODriver struct {
	mu   sync.Mutex
	pins map[int]PinMode
}

// NewRPIODriver maps the GPIO registers and returns a driver.
func NewRPIODriver() (*RPIODriver, error) {
	debug.Info("Initializing memory-mapped GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped successfully")

	return &RPIODriver{pins: make(map[int]PinMode)}, nil
}

func (r *RPIODriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	r.mu.Lock()
	r.pins[pin] = mode
	r.mu.Unlock()
	return nil
}

func (r *RPIODriver) ensure(pin int, mode PinMode) error {
	r.mu.Lock()
	_, ok := r.pins[pin]
	r.mu.Unlock()
	if ok {
		return nil
	}
	return r.SetupPin(pin, mode)
}

func (r *RPIODriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	if err := r.ensure(pin, Output); err != nil {
		return err
	}
	if level == High {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
	return nil
}

func (r *RPIODriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	if err := r.ensure(pin, Input); err != nil {
		return Low, err
	}
	return Level(rpio.Pin(pin).Read() == rpio.High), nil
}

// Close drives outputs low, returns every used pin to input and unmaps the registers.
func (r *RPIODriver) Close() error {
	debug.Trace("GPIO Close (rpio driver)")

	r.mu.Lock()
	for pin, mode := range r.pins {
		if mode == Output {
			rpio.Pin(pin).Low()
		}
		rpio.Pin(pin).Input()
		delete(r.pins, pin)
	}
	r.mu.Unlock()

	return rpio.Close()
}
