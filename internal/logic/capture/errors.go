package capture

import (
	"errors"
	"fmt"
)

// Error kinds. None of them is retried; the caller reports and exits.
var (
	ErrConnection = errors.New("connection error")
	ErrDevice     = errors.New("device error")
	ErrCapture    = errors.New("capture error")
)

// ErrSessionUsed is returned when Run is called on a session twice.
var ErrSessionUsed = errors.New("capture session already used")

// Step names the lifecycle step that failed.
type Step string

const (
	StepConnect    Step = "connect"
	StepCameraOpen Step = "camera-open"
	StepConfigure  Step = "configure"
	StepWarmup     Step = "warm-up"
	StepCapture    Step = "capture"
	StepTeardown   Step = "teardown"
)

// Error is a failed session. Kind is one of ErrConnection, ErrDevice or
// ErrCapture and matches with errors.Is. Cleanup holds release failures that
// happened while tearing down after the primary failure.
type Error struct {
	Kind    error
	Step    Step
	Err     error
	Cleanup error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed: %v: %v", e.Step, e.Kind, e.Err)
	if e.Cleanup != nil {
		msg += fmt.Sprintf(" (teardown: %v)", e.Cleanup)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind, e.Err}
	if e.Cleanup != nil {
		errs = append(errs, e.Cleanup)
	}
	return errs
}

// StepOf returns the failed step of err, or "" when err is not a session error.
func StepOf(err error) Step {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return ""
}
