package led

import (
	"errors"
	"testing"

	"github.com/cjeanneret/picast/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls    []gpioCall
	writeErr error
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	if d.writeErr != nil {
		return d.writeErr
	}
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error { return nil }

func (d *recordingDriver) writeCalls() []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func TestLED_InitializedOff(t *testing.T) {
	cases := []struct {
		name      string
		activeLow bool
		want      gpio.Level
	}{
		{"active_high", false, gpio.Low},
		{"active_low", true, gpio.High},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drv := &recordingDriver{}
			l, err := New(drv, Config{Pin: 26, ActiveLow: tc.activeLow})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if drv.calls[0].op != "setup" || drv.calls[0].pin != 26 {
				t.Errorf("first call = %+v, want setup of pin 26", drv.calls[0])
			}
			writes := drv.writeCalls()
			if len(writes) != 1 || writes[0].level != tc.want {
				t.Errorf("init writes = %+v, want single %v", writes, tc.want)
			}
			if l.IsOn() {
				t.Error("LED should start off")
			}
		})
	}
}

func TestLED_OnOffSequence(t *testing.T) {
	drv := &recordingDriver{}
	l, err := New(drv, Config{Pin: 26})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	drv.calls = nil

	if err := l.On(); err != nil {
		t.Fatalf("On: %v", err)
	}
	if err := l.On(); err != nil {
		t.Fatalf("second On: %v", err)
	}
	if err := l.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}

	writes := drv.writeCalls()
	expected := []gpio.Level{gpio.High, gpio.Low}
	if len(writes) != len(expected) {
		t.Fatalf("expected %d writes (repeated On is a no-op), got %d: %v", len(expected), len(writes), writes)
	}
	for i, lvl := range expected {
		if writes[i].level != lvl {
			t.Errorf("write %d level = %v, want %v", i, writes[i].level, lvl)
		}
	}
}

func TestLED_WriteErrorKeepsState(t *testing.T) {
	drv := &recordingDriver{}
	l, err := New(drv, Config{Pin: 26})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	drv.writeErr = errors.New("line busy")
	if err := l.On(); err == nil {
		t.Fatal("expected error from On")
	}
	if l.IsOn() {
		t.Error("state should not change when the write fails")
	}
}
