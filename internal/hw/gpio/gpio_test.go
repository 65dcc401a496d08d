package gpio

import "testing"

func TestNewDriver_Mock(t *testing.T) {
	for _, name := range []string{"", DriverMock} {
		d, err := NewDriver(name, "")
		if err != nil {
			t.Fatalf("NewDriver(%q): %v", name, err)
		}
		if _, ok := d.(*MockDriver); !ok {
			t.Errorf("NewDriver(%q) = %T, want *MockDriver", name, d)
		}
	}
}

func TestNewDriver_Unknown(t *testing.T) {
	if _, err := NewDriver("sysfs", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestMockDriver_NoErrors(t *testing.T) {
	d := &MockDriver{}
	if err := d.SetupPin(17, Output); err != nil {
		t.Fatalf("SetupPin: %v", err)
	}
	if err := d.WritePin(17, High); err != nil {
		t.Fatalf("WritePin: %v", err)
	}
	lvl, err := d.ReadPin(17)
	if err != nil {
		t.Fatalf("ReadPin: %v", err)
	}
	if lvl != Low {
		t.Errorf("ReadPin = %v, want Low", lvl)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCdevDriver_DefaultChip(t *testing.T) {
	d, err := NewCdevDriver("")
	if err != nil {
		t.Fatalf("NewCdevDriver: %v", err)
	}
	if d.chip != DefaultChip {
		t.Errorf("chip = %q, want %q", d.chip, DefaultChip)
	}
	// No lines requested yet, so Close must not touch the device.
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
