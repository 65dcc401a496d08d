//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/blackjack/webcam"

	"github.com/cjeanneret/picast/internal/debug"
)

// DefaultV4L2Device is used when no device path is configured.
const DefaultV4L2Device = "/dev/video0"

// frameTimeout bounds a single WaitForFrame, in seconds.
const frameTimeout = 2

// fourcc builds a V4L2 pixel format code.
func fourcc(s string) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24)
}

var (
	pixMJPEG = fourcc("MJPG")
	pixH264  = fourcc("H264")
)

// webcamQueue exposes the mmap buffer queue of a streaming webcam.
type webcamQueue struct {
	cam *webcam.Webcam
}

func (q webcamQueue) WaitFrame(timeout uint32) (bool, error) {
	err := q.cam.WaitForFrame(timeout)
	var t *webcam.Timeout
	if errors.As(err, &t) {
		return false, nil
	}
	return err == nil, err
}

func (q webcamQueue) GetFrame() ([]byte, uint32, error) { return q.cam.GetFrame() }

func (q webcamQueue) ReleaseFrame(index uint32) error { return q.cam.ReleaseFrame(index) }

// V4L2Opener opens a UVC/V4L2 camera that can deliver compressed frames.
type V4L2Opener struct {
	Path string
}

func (o *V4L2Opener) Open(ctx context.Context) (Device, error) {
	path := o.Path
	if path == "" {
		path = DefaultV4L2Device
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	debug.Info("Camera: opened V4L2 device %s", path)
	return &V4L2{cam: cam, queue: webcamQueue{cam}, path: path}, nil
}

// V4L2 streams MJPEG or H.264 frames from a V4L2 device. The device encodes;
// frames are written to the sink as delivered.
type V4L2 struct {
	cam   *webcam.Webcam
	queue frameQueue
	path  string

	mu        sync.Mutex
	format    webcam.PixelFormat
	streaming bool
	stale     bool // frames queued during the warm-up are still in the driver
	pump      *framePump
}

func (v *V4L2) Configure(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	want := pixMJPEG
	if s.Encoding == H264 {
		want = pixH264
	}
	formats := v.cam.GetSupportedFormats()
	if _, ok := formats[want]; !ok {
		return fmt.Errorf("%s: %w: %s", v.path, ErrUnsupportedEncoding, s.Encoding)
	}

	f, w, h, err := v.cam.SetImageFormat(want, uint32(s.Width), uint32(s.Height))
	if err != nil {
		return fmt.Errorf("set format %s %dx%d: %w", formats[want], s.Width, s.Height, err)
	}
	if f != want || int(w) != s.Width || int(h) != s.Height {
		return fmt.Errorf("%s: resolution %dx%d not supported (device offered %dx%d)", v.path, s.Width, s.Height, w, h)
	}
	if s.Framerate > 0 {
		if err := v.cam.SetFramerate(float32(s.Framerate)); err != nil {
			return fmt.Errorf("set framerate %d: %w", s.Framerate, err)
		}
	}

	v.mu.Lock()
	v.format = f
	v.mu.Unlock()
	debug.Verbose("Camera: %s configured %s %dx%d", v.path, formats[want], w, h)
	return nil
}

// StartPreview starts streaming so auto exposure runs during the warm-up.
func (v *V4L2) StartPreview() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.format == 0 {
		return ErrNotConfigured
	}
	if v.streaming {
		return nil
	}
	if err := v.cam.StartStreaming(); err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}
	v.streaming = true
	v.stale = true
	return nil
}

func (v *V4L2) StopPreview() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.streaming {
		return nil
	}
	v.streaming = false
	return v.cam.StopStreaming()
}

// settle drops the frames buffered since streaming started, once, so the
// first frame used was exposed after the warm-up. Callers hold v.mu.
func (v *V4L2) settle() error {
	if !v.stale {
		return nil
	}
	n, err := drainQueued(v.queue)
	if err != nil {
		return fmt.Errorf("drain warm-up frames: %w", err)
	}
	v.stale = false
	debug.Verbose("Camera: dropped %d frames queued during warm-up", n)
	return nil
}

func (v *V4L2) next() ([]byte, bool, error) {
	return nextFrame(v.queue, frameTimeout)
}

func (v *V4L2) Capture(w io.Writer, enc Encoding) error {
	if enc != JPEG {
		return fmt.Errorf("v4l2 capture: %w: %s", ErrUnsupportedEncoding, enc)
	}
	v.mu.Lock()
	if !v.streaming {
		v.mu.Unlock()
		return ErrNotPreviewing
	}
	if v.format != pixMJPEG {
		v.mu.Unlock()
		return fmt.Errorf("v4l2 capture: %w: device configured for h264", ErrUnsupportedEncoding)
	}
	err := v.settle()
	v.mu.Unlock()
	if err != nil {
		return err
	}

	for {
		frame, ok, err := v.next()
		if err != nil {
			return err
		}
		if ok {
			_, err = w.Write(frame)
			return err
		}
	}
}

func (v *V4L2) StartRecording(w io.Writer, enc Encoding) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if (enc == H264) != (v.format == pixH264) || !enc.IsVideo() {
		return fmt.Errorf("v4l2 recording: %w: %s", ErrUnsupportedEncoding, enc)
	}
	if !v.streaming {
		return ErrNotPreviewing
	}
	if v.pump != nil {
		return ErrRecording
	}
	if err := v.settle(); err != nil {
		return err
	}

	v.pump = startPump(w, 0, v.next)
	debug.Live("Camera: recording %s from %s", enc, v.path)
	return nil
}

func (v *V4L2) StopRecording() error {
	v.mu.Lock()
	p := v.pump
	v.pump = nil
	v.mu.Unlock()
	if p == nil {
		return ErrNotRecording
	}
	return p.Stop()
}

func (v *V4L2) Failed() <-chan error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pump == nil {
		return nil
	}
	return v.pump.Failed()
}

func (v *V4L2) Close() error {
	var errs []error
	v.mu.Lock()
	p := v.pump
	v.pump = nil
	v.mu.Unlock()
	if p != nil {
		errs = append(errs, p.Stop())
	}
	errs = append(errs, v.StopPreview(), v.cam.Close())
	return errors.Join(errs...)
}
