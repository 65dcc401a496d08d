package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/picast/internal/debug"
)

// stillSettleTime is how long rpicam-still runs its own preview before the
// shot. The session warm-up cannot keep the sensor running between processes,
// so exposure settles inside the still process as well.
const stillSettleTime = time.Second

// RPiCamOpener opens the Raspberry Pi camera through rpicam-apps
// (or libcamera-apps on older images).
type RPiCamOpener struct {
	Camera string // camera index passed to --camera; empty = default
}

// lookupApp returns the first of rpicam-<app>, libcamera-<app> found on PATH.
func lookupApp(app string) (string, error) {
	for _, prefix := range []string{"rpicam-", "libcamera-"} {
		if p, err := exec.LookPath(prefix + app); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("neither rpicam-%s nor libcamera-%s found", app, app)
}

// Open checks that the tools exist and that a camera is detected.
func (o *RPiCamOpener) Open(ctx context.Context) (Device, error) {
	vid, err := lookupApp("vid")
	if err != nil {
		return nil, err
	}
	still, err := lookupApp("still")
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, vid, "--list-cameras")
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("list cameras: %w: %s", err, strings.TrimSpace(out.String()))
	}
	if !strings.Contains(out.String(), "Available cameras") {
		return nil, fmt.Errorf("no camera detected: %s", strings.TrimSpace(out.String()))
	}

	debug.Info("Camera: opened Raspberry Pi camera (%s, %s, camera %q)", vid, still, o.Camera)
	return &RPiCam{vidCmd: vid, stillCmd: still, camera: o.Camera}, nil
}

// RPiCam drives rpicam-vid and rpicam-still. Each capture runs one process
// whose stdout is written straight into the sink.
type RPiCam struct {
	vidCmd   string
	stillCmd string
	camera   string

	mu         sync.Mutex
	settings   Settings
	configured bool
	closed     bool
	rec        *rpicamRecording
}

type rpicamRecording struct {
	cmd      *exec.Cmd
	stderr   *bytes.Buffer
	sink     *sinkWriter
	done     chan struct{}
	failed   chan error
	waitErr  error
	stopping bool
}

// command builds an rpicam process writing stdout into sink. WaitDelay lets
// Wait return after the process exits even if a sink write never returns.
func (c *RPiCam) command(name string, args []string, sink io.Writer, stderr io.Writer) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Stdout = sink
	cmd.Stderr = stderr
	cmd.WaitDelay = 3 * abortWait
	return cmd
}

func (c *RPiCam) Configure(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.settings = s
	c.configured = true
	return nil
}

// StartPreview is a no-op: rpicam processes own the sensor only while they run.
func (c *RPiCam) StartPreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.configured {
		return ErrNotConfigured
	}
	return nil
}

func (c *RPiCam) StopPreview() error { return nil }

func (c *RPiCam) commonArgs() []string {
	args := []string{
		"--width", strconv.Itoa(c.settings.Width),
		"--height", strconv.Itoa(c.settings.Height),
		"--nopreview",
	}
	if c.camera != "" {
		args = append(args, "--camera", c.camera)
	}
	return args
}

// stillArgs returns the rpicam-still arguments for a single JPEG on stdout.
func (c *RPiCam) stillArgs() []string {
	return append(c.commonArgs(),
		"--encoding", "jpg",
		"--timeout", strconv.Itoa(int(stillSettleTime/time.Millisecond)),
		"--output", "-",
	)
}

// videoArgs returns the rpicam-vid arguments for an endless stream on stdout.
func (c *RPiCam) videoArgs(enc Encoding) []string {
	args := append(c.commonArgs(),
		"--codec", string(enc),
		"--timeout", "0",
		"--output", "-",
	)
	if c.settings.Framerate > 0 {
		args = append(args, "--framerate", strconv.Itoa(c.settings.Framerate))
	}
	if enc == H264 {
		// Repeat SPS/PPS so a receiver can join the raw stream.
		args = append(args, "--inline")
	}
	return args
}

func (c *RPiCam) Capture(w io.Writer, enc Encoding) error {
	if enc != JPEG {
		return fmt.Errorf("rpicam capture: %w: %s", ErrUnsupportedEncoding, enc)
	}
	c.mu.Lock()
	if !c.configured {
		c.mu.Unlock()
		return ErrNotConfigured
	}
	if c.rec != nil {
		c.mu.Unlock()
		return ErrRecording
	}
	args := c.stillArgs()
	c.mu.Unlock()

	var stderr bytes.Buffer
	sink := newSinkWriter(w)
	cmd := c.command(c.stillCmd, args, sink, &stderr)
	debug.Verbose("Camera: %s %s", c.stillCmd, strings.Join(args, " "))

	err := cmd.Run()
	if sink.blocked() {
		return fmt.Errorf("write image: %w", ErrSinkBlocked)
	}
	if werr := sink.Err(); werr != nil {
		return fmt.Errorf("write image: %w", werr)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %s", c.stillCmd, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (c *RPiCam) StartRecording(w io.Writer, enc Encoding) error {
	if !enc.IsVideo() {
		return fmt.Errorf("rpicam recording: %w: %s", ErrUnsupportedEncoding, enc)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.configured {
		return ErrNotConfigured
	}
	if c.rec != nil {
		return ErrRecording
	}

	args := c.videoArgs(enc)
	rec := &rpicamRecording{
		stderr: &bytes.Buffer{},
		sink:   newSinkWriter(w),
		done:   make(chan struct{}),
		failed: make(chan error, 1),
	}
	rec.cmd = c.command(c.vidCmd, args, rec.sink, rec.stderr)

	if err := rec.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.vidCmd, err)
	}
	debug.Live("Camera: recording %s %dx%d@%d with %s", enc,
		c.settings.Width, c.settings.Height, c.settings.Framerate, c.vidCmd)
	debug.Verbose("Camera: %s %s", c.vidCmd, strings.Join(args, " "))

	go c.wait(rec)
	c.rec = rec
	return nil
}

// wait reaps the recording process. Once done is closed, the exec copy
// goroutine has finished, or is stuck in a sink write that stop reports.
func (c *RPiCam) wait(rec *rpicamRecording) {
	err := rec.cmd.Wait()

	c.mu.Lock()
	stopping := rec.stopping
	c.mu.Unlock()

	switch {
	case rec.sink.blocked():
		err = fmt.Errorf("write stream: %w", ErrSinkBlocked)
	case rec.sink.Err() != nil:
		err = fmt.Errorf("write stream: %w", rec.sink.Err())
	case stopping:
		// Exit status after our SIGINT/SIGKILL is expected.
		err = nil
	case err != nil:
		err = fmt.Errorf("%s exited: %w: %s", c.vidCmd, err, strings.TrimSpace(rec.stderr.String()))
	default:
		err = fmt.Errorf("%s exited before stop", c.vidCmd)
	}

	rec.waitErr = err
	if err != nil {
		rec.failed <- err
	}
	close(rec.done)
}

// Failed reports an encoder exit or sink write failure while recording.
func (c *RPiCam) Failed() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec == nil {
		return nil
	}
	return c.rec.failed
}

// StopRecording interrupts rpicam-vid (which flushes and exits) and waits for
// it. If it does not exit within stopGrace it is killed, and if the sink
// still holds a write the sink is aborted.
func (c *RPiCam) StopRecording() error {
	c.mu.Lock()
	rec := c.rec
	if rec == nil {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.rec = nil
	rec.stopping = true
	c.mu.Unlock()

	select {
	case <-rec.done:
	default:
		if err := rec.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			debug.Warn("Camera: interrupt %s: %v", c.vidCmd, err)
		}
		select {
		case <-rec.done:
		case <-time.After(stopGrace):
			debug.Warn("Camera: %s ignored interrupt, killing", c.vidCmd)
			_ = rec.cmd.Process.Kill()
			select {
			case <-rec.done:
			case <-time.After(abortWait):
				debug.Warn("Camera: sink write still pending, aborting it")
				rec.sink.abort()
				<-rec.done
			}
		}
	}

	debug.Live("Camera: %s stopped", c.vidCmd)
	return rec.waitErr
}

func (c *RPiCam) Close() error {
	c.mu.Lock()
	recording := c.rec != nil
	c.closed = true
	c.mu.Unlock()
	if recording {
		return c.StopRecording()
	}
	return nil
}
