package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cjeanneret/picast/internal/debug"
	"github.com/cjeanneret/picast/internal/hw/camera"
	"github.com/cjeanneret/picast/internal/sink"
)

const instrumentationName = "github.com/cjeanneret/picast/internal/logic/capture"

// Indicator is switched on while the camera is capturing (e.g. an LED).
// Its failures never fail a session.
type Indicator interface {
	On() error
	Off() error
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result describes a finished session.
type Result struct {
	State     State
	BytesSent int64
	Started   time.Time
	Finished  time.Time
}

// Session owns one connection and one camera handle for a single capture.
// It is single-use: create a new one per capture.
type Session struct {
	dialer    sink.Dialer
	opener    camera.Opener
	indicator Indicator
	sleep     SleepFunc
	now       func() time.Time
	tracer    trace.Tracer
	metrics   *metrics

	mu    sync.Mutex
	state State
	used  bool
}

// Option configures a Session.
type Option func(*Session)

// WithIndicator lights ind while capturing.
func WithIndicator(ind Indicator) Option {
	return func(s *Session) { s.indicator = ind }
}

// WithSleeper replaces the sleep used for the warm-up and the recording wait.
func WithSleeper(fn SleepFunc) Option {
	return func(s *Session) { s.sleep = fn }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session that will connect with dialer and acquire the
// camera from opener.
func NewSession(dialer sink.Dialer, opener camera.Opener, opts ...Option) *Session {
	s := &Session{
		dialer: dialer,
		opener: opener,
		sleep:  Sleep,
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newMetrics(otel.Meter(instrumentationName))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	debug.Verbose("Session: state -> %s", st)
}

// countingWriter counts bytes that reached the sink.
type countingWriter struct {
	w io.Writer
	n atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

// SetWriteDeadline forwards to the connection so a stopping camera can
// release a write the peer is not draining.
func (c *countingWriter) SetWriteDeadline(t time.Time) error {
	d, ok := c.w.(interface{ SetWriteDeadline(time.Time) error })
	if !ok {
		return errors.ErrUnsupported
	}
	return d.SetWriteDeadline(t)
}

// Run performs the capture: connect, open the camera, configure, warm up,
// capture, then tear down. Teardown runs on every path once anything was
// acquired, and every release is attempted.
func (s *Session) Run(ctx context.Context, cfg Config) (Result, error) {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return Result{State: s.State()}, ErrSessionUsed
	}
	s.used = true
	s.mu.Unlock()

	cfg = cfg.WithDefaults()
	res := Result{Started: s.now()}
	if err := cfg.Validate(); err != nil {
		s.setState(Failed)
		res.State, res.Finished = Failed, s.now()
		return res, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	ctx, span := s.tracer.Start(ctx, "capture.session", trace.WithAttributes(
		attribute.String("capture.mode", cfg.Mode.String()),
		attribute.String("capture.encoding", string(cfg.Encoding)),
		attribute.Int("capture.width", cfg.Width),
		attribute.Int("capture.height", cfg.Height),
		attribute.String("net.peer.name", cfg.Host),
		attribute.Int("net.peer.port", cfg.Port),
	))
	defer span.End()

	debug.Section("Capture session")
	debug.PrintStruct("Capture config", cfg)

	var gs guards
	out := &countingWriter{}
	err := s.run(ctx, cfg, &gs, out)

	kind, cleanupErr := gs.releaseAll()
	if cleanupErr != nil {
		var serr *Error
		if errors.As(err, &serr) {
			serr.Cleanup = cleanupErr
		} else {
			err = &Error{Kind: kind, Step: StepTeardown, Err: cleanupErr}
		}
	}

	res.BytesSent = out.n.Load()
	res.Finished = s.now()
	if err != nil {
		res.State = Failed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		debug.Error("Capture session failed", err)
	} else {
		res.State = Closed
		debug.Info("Capture session complete: %d bytes sent to %s:%d", res.BytesSent, cfg.Host, cfg.Port)
	}
	s.setState(res.State)
	span.SetAttributes(attribute.Int64("capture.bytes_sent", res.BytesSent))
	s.metrics.record(ctx, cfg, res, err)
	return res, err
}

// step runs fn in a child span and converts its failure into a session Error.
func (s *Session) step(ctx context.Context, num int, step Step, kind error, fn func(ctx context.Context) error) error {
	debug.Step(num, string(step))
	ctx, span := s.tracer.Start(ctx, "capture."+string(step))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &Error{Kind: kind, Step: step, Err: err}
	}
	return nil
}

func (s *Session) run(ctx context.Context, cfg Config, gs *guards, out *countingWriter) error {
	var dev camera.Device

	err := s.step(ctx, 1, StepConnect, ErrConnection, func(ctx context.Context) error {
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}
		conn, err := s.dialer.Dial(ctx, cfg.Host, cfg.Port)
		if err != nil {
			return err
		}
		out.w = conn
		gs.push("close connection", ErrConnection, conn.Close)
		return nil
	})
	if err != nil {
		return err
	}
	s.setState(Connected)

	err = s.step(ctx, 2, StepCameraOpen, ErrDevice, func(ctx context.Context) error {
		d, err := s.acquire(ctx, cfg.AcquireTimeout)
		if err != nil {
			return err
		}
		dev = d
		gs.push("close camera", ErrDevice, dev.Close)
		return nil
	})
	if err != nil {
		return err
	}

	err = s.step(ctx, 3, StepConfigure, ErrDevice, func(ctx context.Context) error {
		set := camera.Settings{Width: cfg.Width, Height: cfg.Height, Encoding: cfg.Encoding}
		if cfg.Mode == Video {
			set.Framerate = cfg.Framerate
		}
		return dev.Configure(set)
	})
	if err != nil {
		return err
	}
	s.setState(CameraReady)

	err = s.step(ctx, 4, StepWarmup, ErrDevice, func(ctx context.Context) error {
		if err := dev.StartPreview(); err != nil {
			return err
		}
		gs.push("stop preview", ErrDevice, dev.StopPreview)
		debug.Live("Warming up camera for %v", cfg.Warmup)
		return s.sleep(ctx, cfg.Warmup)
	})
	if err != nil {
		return err
	}

	s.setState(Capturing)
	return s.step(ctx, 5, StepCapture, ErrCapture, func(ctx context.Context) error {
		if cfg.Mode == Still {
			led := s.indicatorOn(gs)
			err := dev.Capture(out, cfg.Encoding)
			led.release()
			return err
		}
		return s.record(ctx, cfg, dev, gs, out)
	})
}

// indicatorOn lights the indicator and pushes its release, which the caller
// may run early. It returns nil when the session has no indicator.
func (s *Session) indicatorOn(gs *guards) *guard {
	if s.indicator == nil {
		return nil
	}
	if err := s.indicator.On(); err != nil {
		debug.Warn("Indicator on: %v", err)
	}
	return gs.push("indicator off", nil, s.indicator.Off)
}

// record streams for cfg.Duration, then stops the encoder. The stop guard is
// on the release stack before the wait begins, so a failed or interrupted
// wait still stops the encoder before the camera and connection close. The
// indicator goes on once recording runs and off before the encoder stops.
func (s *Session) record(ctx context.Context, cfg Config, dev camera.Device, gs *guards, out io.Writer) error {
	if err := dev.StartRecording(out, cfg.Encoding); err != nil {
		return err
	}
	stop := gs.push("stop recording", ErrCapture, dev.StopRecording)
	led := s.indicatorOn(gs)
	debug.Live("Recording %s for %v", cfg.Encoding, cfg.Duration)

	var failed <-chan error
	if m, ok := dev.(camera.Monitor); ok {
		failed = m.Failed()
	}

	waitErr, encoderFailed := s.wait(ctx, cfg.Duration, failed)
	led.release()
	stopErr := stop.release()
	switch {
	case encoderFailed:
		// StopRecording reports the same failure again.
		return waitErr
	case waitErr != nil:
		return errors.Join(waitErr, stopErr)
	default:
		return stopErr
	}
}

// wait sleeps for d, returning early if the encoder reports a failure.
func (s *Session) wait(ctx context.Context, d time.Duration, failed <-chan error) (err error, encoderFailed bool) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.sleep(wctx, d) }()

	select {
	case err := <-done:
		return err, false
	case err := <-failed:
		cancel()
		<-done
		return fmt.Errorf("encoder stopped: %w", err), true
	}
}

// acquire opens the camera, bounded by timeout when it is positive. A device
// that shows up after the timeout is closed.
func (s *Session) acquire(ctx context.Context, timeout time.Duration) (camera.Device, error) {
	if timeout <= 0 {
		return s.opener.Open(ctx)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type opened struct {
		dev camera.Device
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		dev, err := s.opener.Open(actx)
		ch <- opened{dev, err}
	}()

	select {
	case r := <-ch:
		return r.dev, r.err
	case <-actx.Done():
		go func() {
			if r := <-ch; r.dev != nil {
				if err := r.dev.Close(); err != nil {
					debug.Warn("Closing late camera handle: %v", err)
				}
			}
		}()
		return nil, fmt.Errorf("open camera: %w", actx.Err())
	}
}
