package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/picast/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

// DefaultChip is the GPIO character device used when none is configured.
const DefaultChip = "gpiochip0"

// CdevDriver drives GPIOs through the Linux GPIO character device.
// Unlike RPiDriver it does not need /dev/gpiomem, so it also works on
// boards other than the Raspberry Pi and on Pi 5 (RP1).
type CdevDriver struct {
	chip  string
	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewCdevDriver creates a driver for the given chip (e.g. "gpiochip0").
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = DefaultChip
	}
	debug.Info("Initializing GPIO character device driver (%s)", chip)
	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

func (d *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		req gpiocdev.LineReqOption
		cfg gpiocdev.LineConfigOption
	)
	switch mode {
	case Input:
		req, cfg = gpiocdev.AsInput, gpiocdev.AsInput
	case Output:
		req, cfg = gpiocdev.AsOutput(0), gpiocdev.AsOutput(0)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	if l, ok := d.lines[pin]; ok {
		return l.Reconfigure(cfg)
	}

	l, err := gpiocdev.RequestLine(d.chip, pin, req, gpiocdev.WithConsumer("picast"))
	if err != nil {
		return fmt.Errorf("request line %d on %s: %w", pin, d.chip, err)
	}
	d.lines[pin] = l
	return nil
}

func (d *CdevDriver) line(pin int, mode PinMode) (*gpiocdev.Line, error) {
	d.mu.Lock()
	l, ok := d.lines[pin]
	d.mu.Unlock()
	if ok {
		return l, nil
	}
	if err := d.SetupPin(pin, mode); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines[pin], nil
}

func (d *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	l, err := d.line(pin, Output)
	if err != nil {
		return err
	}
	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (d *CdevDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	l, err := d.line(pin, Input)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, err
	}
	return Level(v != 0), nil
}

// Close releases every requested line. Lines return to their kernel default.
func (d *CdevDriver) Close() error {
	debug.Trace("GPIO Close (cdev driver)")

	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for pin, l := range d.lines {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close line %d: %w", pin, err)
		}
		delete(d.lines, pin)
	}
	return firstErr
}
